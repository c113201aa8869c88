/*
Copyright 2026 Serge Logvinov.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package aggregate

import (
	"math"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"
)

// NodeReport is the serializable form of an aggregate node: canonical
// quantity strings per kind and category, applicable ratios as percentages,
// children ordered by label. Undefined cells are omitted, explicit zero sums
// are kept.
type NodeReport struct {
	Label     string                    `json:"label"`
	Level     Level                     `json:"level"`
	Resources map[string]ResourceReport `json:"resources,omitempty"`
	Children  []NodeReport              `json:"children,omitempty"`
}

// ResourceReport is the per-kind cell set of one node.
type ResourceReport struct {
	Capacity    *string            `json:"capacity,omitempty"`
	Allocatable *string            `json:"allocatable,omitempty"`
	Requested   *string            `json:"requested,omitempty"`
	Limit       *string            `json:"limit,omitempty"`
	Used        *string            `json:"used,omitempty"`
	Recommended *string            `json:"recommended,omitempty"`
	Free        *string            `json:"free,omitempty"`
	Ratios      map[string]float64 `json:"ratios,omitempty"`
}

// Report converts the aggregate tree into its interchange form.
func (n *Node) Report() NodeReport {
	report := NodeReport{
		Label: n.Label,
		Level: n.Level,
	}

	if len(n.Resources) > 0 {
		report.Resources = make(map[string]ResourceReport, len(n.Resources))
		for _, kind := range n.Kinds() {
			report.Resources[kind] = resourceReport(n.Resources[kind])
		}
	}

	for _, child := range n.Children() {
		report.Children = append(report.Children, child.Report())
	}

	return report
}

func resourceReport(acc *Accumulator) ResourceReport {
	cell := func(category collect.Category) *string {
		q, ok := acc.Get(category)
		if !ok {
			return nil
		}

		s := q.String()

		return &s
	}

	report := ResourceReport{
		Capacity:    cell(collect.CategoryCapacity),
		Allocatable: cell(collect.CategoryAllocatable),
		Requested:   cell(collect.CategoryRequested),
		Limit:       cell(collect.CategoryLimit),
		Used:        cell(collect.CategoryUsed),
		Recommended: cell(collect.CategoryRecommended),
	}

	if free, ok := acc.Free(); ok {
		s := free.String()
		report.Free = &s
	}

	for _, key := range AllRatios {
		ratio := acc.Ratio(key)
		if !ratio.Applicable {
			continue
		}

		if report.Ratios == nil {
			report.Ratios = map[string]float64{}
		}

		report.Ratios[key.String()] = math.Round(ratio.Percent*100) / 100
	}

	return report
}
