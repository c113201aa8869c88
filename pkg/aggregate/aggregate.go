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

// Package aggregate rolls flat resource facts up through a configurable
// hierarchy and derives utilization ratios at every level of the tree.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"
	"github.com/sergelogvinov/kube-allocations/pkg/qty"
)

// Level is one hierarchy axis facts can be grouped by.
type Level string

const (
	LevelCluster   Level = "cluster"
	LevelNode      Level = "node"
	LevelNamespace Level = "namespace"
	LevelPod       Level = "pod"
	LevelContainer Level = "container"
)

// DefaultOrder mirrors the usual way of reading a cluster: nodes first, then
// the pods they carry.
var DefaultOrder = []Level{LevelNode, LevelPod}

// ParseLevels converts --group-by flag values into a grouping order.
func ParseLevels(names []string) ([]Level, error) {
	if len(names) == 0 {
		return DefaultOrder, nil
	}

	levels := make([]Level, 0, len(names))
	seen := map[Level]struct{}{}

	for _, name := range names {
		level := Level(strings.ToLower(name))
		switch level {
		case LevelNode, LevelNamespace, LevelPod, LevelContainer:
		default:
			return nil, fmt.Errorf("unknown group-by level %q (node, namespace, pod, container)", name)
		}

		if _, dup := seen[level]; dup {
			return nil, fmt.Errorf("duplicate group-by level %q", name)
		}

		seen[level] = struct{}{}
		levels = append(levels, level)
	}

	return levels, nil
}

// segment extracts the path label of a location at this level. Empty means
// the fact stops above this level and stays attached to the node reached so
// far, e.g. node allocatable never descends into namespaces.
func (l Level) segment(loc collect.Location) string {
	switch l {
	case LevelNode:
		return loc.Node
	case LevelNamespace:
		return loc.Namespace
	case LevelPod:
		return loc.Pod
	case LevelContainer:
		return loc.Container
	default:
		return ""
	}
}

// RatioKey names a derived ratio by its numerator and denominator category.
type RatioKey struct {
	Numerator   collect.Category
	Denominator collect.Category
}

func (k RatioKey) String() string {
	return string(k.Numerator) + "/" + string(k.Denominator)
}

var (
	RequestedPerAllocatable = RatioKey{collect.CategoryRequested, collect.CategoryAllocatable}
	LimitPerAllocatable     = RatioKey{collect.CategoryLimit, collect.CategoryAllocatable}
	UsedPerLimit            = RatioKey{collect.CategoryUsed, collect.CategoryLimit}
	UsedPerRequested        = RatioKey{collect.CategoryUsed, collect.CategoryRequested}

	// AllRatios is every derived ratio computed during the roll-up.
	AllRatios = []RatioKey{RequestedPerAllocatable, LimitPerAllocatable, UsedPerLimit, UsedPerRequested}
)

// MeaningfulRatios tells a projector which ratio columns make sense at a
// hierarchy level. Allocatable is a node property: below node level the
// denominator is never defined, so allocatable-based ratios are pointless
// there.
func MeaningfulRatios(level Level) []RatioKey {
	switch level {
	case LevelCluster, LevelNode:
		return AllRatios
	default:
		return []RatioKey{UsedPerLimit, UsedPerRequested}
	}
}

// Ratio is a tri-state percentage: not applicable, or a value. An undefined
// numerator over a defined nonzero denominator is a legitimate 0%.
type Ratio struct {
	Applicable bool
	Percent    float64
}

// Accumulator holds the per-category sums of one resource kind at one tree
// node. A missing cell is undefined, which is distinct from an explicit zero
// sum and never contributes to parents.
type Accumulator struct {
	kind   string
	cells  map[collect.Category]qty.Qty
	ratios map[RatioKey]Ratio
}

func newAccumulator(kind string) *Accumulator {
	return &Accumulator{
		kind:  kind,
		cells: map[collect.Category]qty.Qty{},
	}
}

// Kind returns the resource kind this accumulator sums.
func (a *Accumulator) Kind() string {
	return a.kind
}

// Get returns the sum for a category and whether it is defined at all.
func (a *Accumulator) Get(category collect.Category) (qty.Qty, bool) {
	q, ok := a.cells[category]

	return q, ok
}

// Ratio returns a derived ratio; unknown keys are not applicable.
func (a *Accumulator) Ratio(key RatioKey) Ratio {
	return a.ratios[key]
}

// Free is allocatable minus whichever of requested or limit binds harder,
// floored at zero. Undefined when allocatable is undefined.
func (a *Accumulator) Free() (qty.Qty, bool) {
	allocatable, ok := a.cells[collect.CategoryAllocatable]
	if !ok {
		return qty.Qty{}, false
	}

	held, ok := a.cells[collect.CategoryRequested]
	if limit, lok := a.cells[collect.CategoryLimit]; lok {
		if !ok {
			held = limit
		} else if c, err := limit.Cmp(held); err == nil && c > 0 {
			held = limit
		}

		ok = true
	}

	if !ok {
		held = qty.Zero(a.kind)
	}

	free, err := allocatable.Sub(held)
	if err != nil {
		return qty.Qty{}, false
	}

	if c, err := free.Cmp(qty.Zero(a.kind)); err != nil || c < 0 {
		return qty.Zero(a.kind), true
	}

	return free, true
}

func (a *Accumulator) add(category collect.Category, q qty.Qty) error {
	if q.Kind() != a.kind {
		return fmt.Errorf("%w: accumulator %q merged with %q", qty.ErrIncompatibleKinds, a.kind, q.Kind())
	}

	current, ok := a.cells[category]
	if !ok {
		a.cells[category] = q

		return nil
	}

	sum, err := current.Add(q)
	if err != nil {
		return err
	}

	a.cells[category] = sum

	return nil
}

func (a *Accumulator) merge(other *Accumulator) error {
	for category, q := range other.cells {
		if err := a.add(category, q); err != nil {
			return err
		}
	}

	return nil
}

func (a *Accumulator) deriveRatios() {
	a.ratios = make(map[RatioKey]Ratio, len(AllRatios))

	for _, key := range AllRatios {
		den, denOK := a.cells[key.Denominator]
		if !denOK || den.IsZero() {
			a.ratios[key] = Ratio{}

			continue
		}

		num, numOK := a.cells[key.Numerator]
		if !numOK {
			num = qty.Zero(a.kind)
		}

		percent, ok := num.Percent(den)
		a.ratios[key] = Ratio{Applicable: ok, Percent: percent}
	}
}

// Node is one aggregate in the rolled-up tree. Resources holds the finalized
// totals: everything attached directly at this node plus the sums of all
// children.
type Node struct {
	Label string
	Level Level

	Resources map[string]*Accumulator

	direct   map[string]*Accumulator
	children map[string]*Node
}

func newNode(label string, level Level) *Node {
	return &Node{
		Label:     label,
		Level:     level,
		Resources: map[string]*Accumulator{},
		direct:    map[string]*Accumulator{},
		children:  map[string]*Node{},
	}
}

// Child returns the named child node, or nil.
func (n *Node) Child(label string) *Node {
	return n.children[label]
}

// Children returns the child nodes ordered by label.
func (n *Node) Children() []*Node {
	labels := make([]string, 0, len(n.children))
	for label := range n.children {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	out := make([]*Node, 0, len(labels))
	for _, label := range labels {
		out = append(out, n.children[label])
	}

	return out
}

// Kinds returns the resource kinds defined at this node, sorted.
func (n *Node) Kinds() []string {
	kinds := make([]string, 0, len(n.Resources))
	for kind := range n.Resources {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds
}

func (n *Node) child(label string, level Level) *Node {
	if c, ok := n.children[label]; ok {
		return c
	}

	c := newNode(label, level)
	n.children[label] = c

	return c
}

func (n *Node) attach(fact collect.Fact) error {
	acc, ok := n.direct[fact.Kind]
	if !ok {
		acc = newAccumulator(fact.Kind)
		n.direct[fact.Kind] = acc
	}

	return acc.add(fact.Category, fact.Quantity)
}

// Aggregate builds the rolled-up tree for the given grouping order. Facts
// whose location has no segment for a level attach at the node reached so
// far. A kind mismatch during a merge means the collector broke its own
// invariant and aborts the whole aggregation.
func Aggregate(facts []collect.Fact, order []Level) (*Node, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}

	root := newNode("cluster", LevelCluster)

	for _, fact := range facts {
		node := root

		for _, level := range order {
			segment := level.segment(fact.Location)
			if segment == "" {
				break
			}

			node = node.child(segment, level)
		}

		if err := node.attach(fact); err != nil {
			return nil, fmt.Errorf("inconsistent fact at %q: %w", node.Label, err)
		}
	}

	if err := root.finalize(); err != nil {
		return nil, err
	}

	return root, nil
}

// finalize performs the single bottom-up pass: children first, then this
// node's totals as direct quantities plus child sums, then derived ratios.
func (n *Node) finalize() error {
	for kind, acc := range n.direct {
		total := newAccumulator(kind)
		if err := total.merge(acc); err != nil {
			return err
		}

		n.Resources[kind] = total
	}

	for _, child := range n.children {
		if err := child.finalize(); err != nil {
			return err
		}

		for kind, childAcc := range child.Resources {
			total, ok := n.Resources[kind]
			if !ok {
				total = newAccumulator(kind)
				n.Resources[kind] = total
			}

			if err := total.merge(childAcc); err != nil {
				return fmt.Errorf("rolling %q up into %q: %w", child.Label, n.Label, err)
			}
		}
	}

	for _, acc := range n.Resources {
		acc.deriveRatios()
	}

	return nil
}
