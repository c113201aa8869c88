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

package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/kube-allocations/pkg/aggregate"
	"github.com/sergelogvinov/kube-allocations/pkg/collect"
	"github.com/sergelogvinov/kube-allocations/pkg/qty"
)

func fact(kind string, category collect.Category, text string, loc collect.Location) collect.Fact {
	return collect.Fact{
		Kind:     kind,
		Category: category,
		Quantity: qty.MustParse(kind, text),
		Location: loc,
	}
}

// twoNodeFacts is the reference scenario: node-a allocatable cpu=4000m with a
// pod requesting 1000m, node-b allocatable cpu=2000m with a pod requesting
// nothing.
func twoNodeFacts() []collect.Fact {
	return []collect.Fact{
		fact("cpu", collect.CategoryAllocatable, "4000m", collect.Location{Node: "node-a"}),
		fact("cpu", collect.CategoryAllocatable, "2000m", collect.Location{Node: "node-b"}),
		fact("cpu", collect.CategoryRequested, "1000m",
			collect.Location{Node: "node-a", Namespace: "default", Pod: "web-1", Container: "app"}),
		fact("memory", collect.CategoryRequested, "256Mi",
			collect.Location{Node: "node-b", Namespace: "default", Pod: "idle-1", Container: "app"}),
	}
}

func TestAggregateTwoNodes(t *testing.T) {
	root, err := aggregate.Aggregate(twoNodeFacts(), []aggregate.Level{aggregate.LevelNode, aggregate.LevelPod})
	require.NoError(t, err)

	cpu := root.Resources["cpu"]
	require.NotNil(t, cpu)

	requested, ok := cpu.Get(collect.CategoryRequested)
	require.True(t, ok)
	assert.Equal(t, "1", requested.String())

	allocatable, ok := cpu.Get(collect.CategoryAllocatable)
	require.True(t, ok)
	assert.Equal(t, "6", allocatable.String())

	ratio := cpu.Ratio(aggregate.RequestedPerAllocatable)
	require.True(t, ratio.Applicable)
	assert.InDelta(t, 16.67, ratio.Percent, 0.01)

	nodeA := root.Child("node-a")
	require.NotNil(t, nodeA)
	ratioA := nodeA.Resources["cpu"].Ratio(aggregate.RequestedPerAllocatable)
	require.True(t, ratioA.Applicable)
	assert.InDelta(t, 25.0, ratioA.Percent, 0.01)

	// node-b has no cpu requests at all: an undefined numerator over a
	// defined allocatable is a legitimate 0%.
	nodeB := root.Child("node-b")
	require.NotNil(t, nodeB)

	_, ok = nodeB.Resources["cpu"].Get(collect.CategoryRequested)
	assert.False(t, ok, "absent requests stay undefined, not zero")

	ratioB := nodeB.Resources["cpu"].Ratio(aggregate.RequestedPerAllocatable)
	require.True(t, ratioB.Applicable)
	assert.Zero(t, ratioB.Percent)
}

func TestAggregateGroupingIndependence(t *testing.T) {
	facts := twoNodeFacts()

	orders := [][]aggregate.Level{
		{aggregate.LevelNode, aggregate.LevelPod},
		{aggregate.LevelPod, aggregate.LevelNode},
		{aggregate.LevelNamespace, aggregate.LevelNode, aggregate.LevelPod},
		{aggregate.LevelContainer},
		nil, // default order
	}

	for _, order := range orders {
		root, err := aggregate.Aggregate(facts, order)
		require.NoError(t, err)

		for kind, category := range map[string]collect.Category{
			"cpu":    collect.CategoryRequested,
			"memory": collect.CategoryRequested,
		} {
			got, ok := root.Resources[kind].Get(category)
			require.True(t, ok, "order %v kind %s", order, kind)

			want, ok := mustAggregate(t, facts, nil).Resources[kind].Get(category)
			require.True(t, ok)

			c, err := got.Cmp(want)
			require.NoError(t, err)
			assert.Zero(t, c, "root totals must not depend on the grouping order")
		}
	}
}

func mustAggregate(t *testing.T, facts []collect.Fact, order []aggregate.Level) *aggregate.Node {
	t.Helper()

	root, err := aggregate.Aggregate(facts, order)
	require.NoError(t, err)

	return root
}

func TestAggregatePathMemoization(t *testing.T) {
	facts := []collect.Fact{
		fact("cpu", collect.CategoryRequested, "100m",
			collect.Location{Node: "node-a", Namespace: "default", Pod: "web-1"}),
		fact("cpu", collect.CategoryRequested, "200m",
			collect.Location{Node: "node-a", Namespace: "default", Pod: "web-2"}),
	}

	root := mustAggregate(t, facts, []aggregate.Level{aggregate.LevelNode, aggregate.LevelPod})

	require.Len(t, root.Children(), 1, "identical node paths must reuse one subtree")

	nodeA := root.Child("node-a")
	require.NotNil(t, nodeA)
	assert.Len(t, nodeA.Children(), 2)

	total, ok := nodeA.Resources["cpu"].Get(collect.CategoryRequested)
	require.True(t, ok)
	assert.Equal(t, "300m", total.String())
}

func TestAggregateAbsenceVersusZero(t *testing.T) {
	facts := []collect.Fact{
		fact("cpu", collect.CategoryRequested, "100m",
			collect.Location{Node: "node-a", Namespace: "quiet", Pod: "web-1"}),
		fact("nvidia.com/gpu", collect.CategoryRequested, "0",
			collect.Location{Node: "node-a", Namespace: "explicit", Pod: "ml-1"}),
	}

	root := mustAggregate(t, facts, []aggregate.Level{aggregate.LevelNamespace, aggregate.LevelPod})

	// No pod in "quiet" ever mentioned GPUs: the kind is absent there.
	quiet := root.Child("quiet")
	require.NotNil(t, quiet)
	assert.Nil(t, quiet.Resources["nvidia.com/gpu"])

	// "explicit" requested exactly 0 GPUs: defined, and zero.
	explicit := root.Child("explicit")
	require.NotNil(t, explicit)

	gpu, ok := explicit.Resources["nvidia.com/gpu"].Get(collect.CategoryRequested)
	require.True(t, ok)
	assert.True(t, gpu.IsZero())
}

func TestAggregateRatioEdgeCases(t *testing.T) {
	facts := []collect.Fact{
		// Defined-but-zero denominator.
		fact("cpu", collect.CategoryRequested, "100m", collect.Location{Node: "node-a"}),
		fact("cpu", collect.CategoryAllocatable, "0", collect.Location{Node: "node-a"}),
		// Undefined denominator.
		fact("memory", collect.CategoryRequested, "1Gi", collect.Location{Node: "node-a"}),
	}

	root := mustAggregate(t, facts, []aggregate.Level{aggregate.LevelNode})
	nodeA := root.Child("node-a")
	require.NotNil(t, nodeA)

	assert.False(t, nodeA.Resources["cpu"].Ratio(aggregate.RequestedPerAllocatable).Applicable,
		"zero denominator is not applicable, never infinity")
	assert.False(t, nodeA.Resources["memory"].Ratio(aggregate.RequestedPerAllocatable).Applicable,
		"undefined denominator is not applicable")
	assert.False(t, nodeA.Resources["cpu"].Ratio(aggregate.UsedPerLimit).Applicable)
}

func TestAggregateDirectAttachment(t *testing.T) {
	// Node allocatable has no pod segment: it attaches at the node and is
	// never decomposed into the children below it.
	facts := []collect.Fact{
		fact("cpu", collect.CategoryAllocatable, "4", collect.Location{Node: "node-a"}),
		fact("cpu", collect.CategoryRequested, "1",
			collect.Location{Node: "node-a", Namespace: "default", Pod: "web-1"}),
	}

	root := mustAggregate(t, facts, []aggregate.Level{aggregate.LevelNode, aggregate.LevelPod})
	nodeA := root.Child("node-a")
	require.NotNil(t, nodeA)

	web := nodeA.Child("web-1")
	require.NotNil(t, web)

	_, ok := web.Resources["cpu"].Get(collect.CategoryAllocatable)
	assert.False(t, ok, "allocatable must not leak below node level")

	allocatable, ok := nodeA.Resources["cpu"].Get(collect.CategoryAllocatable)
	require.True(t, ok)
	assert.Equal(t, "4", allocatable.String())
}

func TestAggregateFree(t *testing.T) {
	facts := []collect.Fact{
		fact("cpu", collect.CategoryAllocatable, "4", collect.Location{Node: "node-a"}),
		fact("cpu", collect.CategoryRequested, "1", collect.Location{Node: "node-a", Pod: "web-1"}),
		fact("cpu", collect.CategoryLimit, "3", collect.Location{Node: "node-a", Pod: "web-1"}),
	}

	root := mustAggregate(t, facts, []aggregate.Level{aggregate.LevelNode, aggregate.LevelPod})

	free, ok := root.Resources["cpu"].Free()
	require.True(t, ok)
	assert.Equal(t, "1", free.String(), "free is allocatable minus the binding maximum of requested and limit")

	// Overcommit floors at zero instead of going negative.
	over := append(facts,
		fact("cpu", collect.CategoryLimit, "10", collect.Location{Node: "node-a", Pod: "big-1"}))

	root = mustAggregate(t, over, []aggregate.Level{aggregate.LevelNode, aggregate.LevelPod})

	free, ok = root.Resources["cpu"].Free()
	require.True(t, ok)
	assert.True(t, free.IsZero())
}

func TestAggregateInconsistentFact(t *testing.T) {
	broken := []collect.Fact{
		{
			Kind:     "cpu",
			Category: collect.CategoryRequested,
			Quantity: qty.MustParse("memory", "1Gi"),
			Location: collect.Location{Node: "node-a"},
		},
	}

	_, err := aggregate.Aggregate(broken, nil)
	assert.ErrorIs(t, err, qty.ErrIncompatibleKinds, "a kind mismatch is a fatal collector bug")
}

func TestParseLevels(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		expect    []aggregate.Level
		expectErr bool
	}{
		{name: "default", input: nil, expect: aggregate.DefaultOrder},
		{name: "custom", input: []string{"namespace", "pod"}, expect: []aggregate.Level{aggregate.LevelNamespace, aggregate.LevelPod}},
		{name: "case insensitive", input: []string{"Node"}, expect: []aggregate.Level{aggregate.LevelNode}},
		{name: "unknown", input: []string{"zone"}, expectErr: true},
		{name: "duplicate", input: []string{"node", "node"}, expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := aggregate.ParseLevels(tt.input)

			if tt.expectErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expect, levels)
		})
	}
}

func TestReport(t *testing.T) {
	root := mustAggregate(t, twoNodeFacts(), []aggregate.Level{aggregate.LevelNode})
	report := root.Report()

	assert.Equal(t, "cluster", report.Label)
	assert.Equal(t, aggregate.LevelCluster, report.Level)
	require.Len(t, report.Children, 2)
	assert.Equal(t, "node-a", report.Children[0].Label)
	assert.Equal(t, "node-b", report.Children[1].Label)

	cpu, ok := report.Resources["cpu"]
	require.True(t, ok)
	require.NotNil(t, cpu.Requested)
	assert.Equal(t, "1", *cpu.Requested)
	require.NotNil(t, cpu.Allocatable)
	assert.Equal(t, "6", *cpu.Allocatable)
	assert.InDelta(t, 16.67, cpu.Ratios[aggregate.RequestedPerAllocatable.String()], 0.01)

	// Undefined cells are omitted from the interchange form.
	assert.Nil(t, cpu.Used)
	assert.Nil(t, cpu.Capacity)
}
