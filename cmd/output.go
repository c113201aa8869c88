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

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sergelogvinov/kube-allocations/pkg/aggregate"
	"github.com/sergelogvinov/kube-allocations/pkg/collect"

	"sigs.k8s.io/yaml"
)

// undefinedCell marks quantities that were never observed, as opposed to an
// explicit zero.
const undefinedCell = "__"

type tableColumns struct {
	Utilization     bool
	Recommendations bool
}

func outputTable(root *aggregate.Node, columns tableColumns, showZero bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	header := []string{"RESOURCE"}
	if columns.Utilization {
		header = append(header, "UTILIZATION")
	}

	if columns.Recommendations {
		header = append(header, "RECOMMENDED")
	}

	header = append(header, "REQUESTED", "LIMIT", "ALLOCATABLE", "FREE")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, kind := range root.Kinds() {
		acc := root.Resources[kind]
		if !showZero && emptyAccumulator(acc) {
			continue
		}

		writeTableRow(w, kind, acc, columns)
		writeTableChildren(w, root, kind, nil, columns, showZero)
	}

	return w.Flush()
}

func writeTableChildren(w *tabwriter.Writer, node *aggregate.Node, kind string, ancestry []bool, columns tableColumns, showZero bool) {
	children := node.Children()

	visible := make([]*aggregate.Node, 0, len(children))

	for _, child := range children {
		acc, ok := child.Resources[kind]
		if !ok {
			continue
		}

		if !showZero && emptyAccumulator(acc) {
			continue
		}

		visible = append(visible, child)
	}

	for i, child := range visible {
		last := make([]bool, len(ancestry)+1)
		copy(last, ancestry)
		last[len(ancestry)] = i == len(visible)-1

		label := treePrefix(last) + child.Label

		writeTableRow(w, label, child.Resources[kind], columns)
		writeTableChildren(w, child, kind, last, columns, showZero)
	}
}

func writeTableRow(w *tabwriter.Writer, label string, acc *aggregate.Accumulator, columns tableColumns) {
	cells := []string{label}

	if columns.Utilization {
		cells = append(cells, ratioCell(acc, collect.CategoryUsed, aggregate.UsedPerLimit))
	}

	if columns.Recommendations {
		cells = append(cells, plainCell(acc, collect.CategoryRecommended))
	}

	cells = append(cells,
		ratioCell(acc, collect.CategoryRequested, aggregate.RequestedPerAllocatable),
		ratioCell(acc, collect.CategoryLimit, aggregate.LimitPerAllocatable),
		plainCell(acc, collect.CategoryAllocatable),
		freeCell(acc),
	)

	fmt.Fprintln(w, strings.Join(cells, "\t"))
}

func plainCell(acc *aggregate.Accumulator, category collect.Category) string {
	q, ok := acc.Get(category)
	if !ok {
		return undefinedCell
	}

	return q.Adjusted()
}

func ratioCell(acc *aggregate.Accumulator, category collect.Category, key aggregate.RatioKey) string {
	q, ok := acc.Get(category)
	if !ok {
		return undefinedCell
	}

	if ratio := acc.Ratio(key); ratio.Applicable {
		return fmt.Sprintf("(%.0f%%) %s", ratio.Percent, q.Adjusted())
	}

	return q.Adjusted()
}

func freeCell(acc *aggregate.Accumulator) string {
	free, ok := acc.Free()
	if !ok {
		return undefinedCell
	}

	return free.Adjusted()
}

// emptyAccumulator mirrors the default row filter: nothing requested,
// limited or allocatable, and no usage seen.
func emptyAccumulator(acc *aggregate.Accumulator) bool {
	if _, ok := acc.Get(collect.CategoryUsed); ok {
		return false
	}

	for _, category := range []collect.Category{collect.CategoryRequested, collect.CategoryLimit, collect.CategoryAllocatable} {
		if q, ok := acc.Get(category); ok && !q.IsZero() {
			return false
		}
	}

	return true
}

func treePrefix(last []bool) string {
	var b strings.Builder

	for _, l := range last[:len(last)-1] {
		if l {
			b.WriteString("   ")
		} else {
			b.WriteString("│  ")
		}
	}

	if last[len(last)-1] {
		b.WriteString("└─ ")
	} else {
		b.WriteString("├─ ")
	}

	return b.String()
}

func outputCSV(root *aggregate.Node, levels []aggregate.Level, columns tableColumns) error {
	header := []string{"Date", "Kind"}
	for _, level := range levels {
		header = append(header, string(level))
	}

	header = append(header, "Requested", "%Requested", "Limit", "%Limit", "Allocatable", "Free")
	if columns.Utilization {
		header = append(header, "Utilization", "%Utilization")
	}

	fmt.Println(strings.Join(header, ","))

	date := time.Now().UTC().Format(time.RFC3339)

	for _, kind := range root.Kinds() {
		writeCSVNode(root, kind, nil, len(levels), columns, date)
	}

	return nil
}

func writeCSVNode(node *aggregate.Node, kind string, path []string, depth int, columns tableColumns, date string) {
	acc, ok := node.Resources[kind]
	if !ok {
		return
	}

	row := []string{date, kind}

	for i := 0; i < depth; i++ {
		if i < len(path) {
			row = append(row, path[i])
		} else {
			row = append(row, "")
		}
	}

	row = append(row, csvCells(acc, collect.CategoryRequested, aggregate.RequestedPerAllocatable)...)
	row = append(row, csvCells(acc, collect.CategoryLimit, aggregate.LimitPerAllocatable)...)

	if allocatable, ok := acc.Get(collect.CategoryAllocatable); ok {
		row = append(row, allocatable.String())
	} else {
		row = append(row, "")
	}

	if free, ok := acc.Free(); ok {
		row = append(row, free.String())
	} else {
		row = append(row, "")
	}

	if columns.Utilization {
		row = append(row, csvCells(acc, collect.CategoryUsed, aggregate.UsedPerLimit)...)
	}

	fmt.Println(strings.Join(row, ","))

	for _, child := range node.Children() {
		childPath := make([]string, len(path)+1)
		copy(childPath, path)
		childPath[len(path)] = child.Label

		writeCSVNode(child, kind, childPath, depth, columns, date)
	}
}

func csvCells(acc *aggregate.Accumulator, category collect.Category, key aggregate.RatioKey) []string {
	q, ok := acc.Get(category)
	if !ok {
		return []string{"", ""}
	}

	percent := ""
	if ratio := acc.Ratio(key); ratio.Applicable {
		percent = fmt.Sprintf("%.0f%%", ratio.Percent)
	}

	return []string{q.String(), percent}
}

func outputJSON(root *aggregate.Node) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(root.Report())
}

func outputYAML(root *aggregate.Node) error {
	yamlData, err := yaml.Marshal(root.Report())
	if err != nil {
		return err
	}

	fmt.Print(string(yamlData))

	return nil
}
