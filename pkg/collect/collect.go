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

// Package collect flattens a cluster snapshot into resource facts: one
// (location, kind, category, quantity) tuple per observed value. The
// collector is a pure transformation, it never talks to the cluster.
package collect

import (
	"errors"
	"strings"

	"k8s.io/klog/v2"

	"github.com/sergelogvinov/kube-allocations/pkg/qty"

	corev1 "k8s.io/api/core/v1"
)

// Category qualifies what a quantity means at its location.
type Category string

const (
	CategoryCapacity    Category = "capacity"
	CategoryAllocatable Category = "allocatable"
	CategoryRequested   Category = "requested"
	CategoryLimit       Category = "limit"
	CategoryUsed        Category = "used"
	CategoryRecommended Category = "recommended"
)

// UnscheduledNode is the node bucket for pods that are not bound to any node
// known to the snapshot. Partial data keeps aggregating instead of failing.
const UnscheduledNode = "unscheduled"

// PodsKind is the synthetic resource counting pods themselves, mirroring the
// node status "pods" capacity.
const PodsKind = "pods"

// Location is the hierarchy path of a fact. Empty trailing segments mean the
// quantity is attached above that level, e.g. node allocatable has only Node
// set, and pod-level request adjustments have Container empty.
type Location struct {
	Node      string
	Namespace string
	Pod       string
	Container string
}

// Fact is a single immutable resource observation.
type Fact struct {
	Kind     string
	Category Category
	Quantity qty.Qty
	Location Location
}

// Diagnostic records a fact that was dropped because its quantity text did
// not parse. The run carries on without it.
type Diagnostic struct {
	Location Location
	Kind     string
	Category Category
	Value    string
	Err      error
}

// ContainerSample is a live usage observation for one container, as quantity
// text per resource kind. Text is parsed here so one malformed value drops
// one fact, not the whole sample.
type ContainerSample struct {
	Name  string
	Usage map[string]string
}

// PodSample groups the container samples of one pod.
type PodSample struct {
	Namespace  string
	Pod        string
	Containers []ContainerSample
}

// Recommendation is a recommended request target for one container, as
// quantity text per resource kind.
type Recommendation struct {
	Namespace string
	Pod       string
	Container string
	Target    map[string]string
}

// Snapshot is the immutable input of a collection run. Usage and
// Recommendations are optional.
type Snapshot struct {
	Nodes           []corev1.Node
	Pods            []corev1.Pod
	Usage           []PodSample
	Recommendations []Recommendation
}

// Collect flattens the snapshot into facts. Malformed quantity texts are
// dropped and reported as diagnostics, never as an error.
func Collect(snapshot Snapshot) ([]Fact, []Diagnostic) {
	var (
		facts []Fact
		diags []Diagnostic
	)

	nodeNames := make(map[string]struct{}, len(snapshot.Nodes))

	for i := range snapshot.Nodes {
		node := &snapshot.Nodes[i]
		nodeNames[node.Name] = struct{}{}

		collectNode(node, &facts)
	}

	locations := make(map[podKey]Location, len(snapshot.Pods))

	for i := range snapshot.Pods {
		pod := &snapshot.Pods[i]
		if !isScheduled(pod) {
			continue
		}

		loc := podLocation(pod, nodeNames)
		locations[podKey{pod.Namespace, pod.Name}] = loc

		collectPod(pod, loc, &facts)
	}

	collectUsage(snapshot.Usage, locations, &facts, &diags)
	collectRecommendations(snapshot.Recommendations, locations, &facts, &diags)

	return facts, diags
}

type podKey struct {
	namespace string
	pod       string
}

func podLocation(pod *corev1.Pod, nodeNames map[string]struct{}) Location {
	node := pod.Spec.NodeName
	if node == "" {
		node = UnscheduledNode
	} else if _, known := nodeNames[node]; !known {
		node = UnscheduledNode
	}

	return Location{Node: node, Namespace: pod.Namespace, Pod: pod.Name}
}

func collectNode(node *corev1.Node, facts *[]Fact) {
	loc := Location{Node: node.Name}

	pushResourceList(facts, loc, CategoryCapacity, node.Status.Capacity)
	pushResourceList(facts, loc, CategoryAllocatable, node.Status.Allocatable)
}

func pushResourceList(facts *[]Fact, loc Location, category Category, list corev1.ResourceList) {
	for name, value := range list {
		kind := string(name)
		*facts = append(*facts, Fact{
			Kind:     kind,
			Category: category,
			Quantity: qty.FromQuantity(kind, value),
			Location: loc,
		})
	}
}

// isScheduled keeps pods that hold resources on a node: running pods, and
// pending pods that already passed scheduling. Succeeded and failed pods no
// longer count against anything.
func isScheduled(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return true
	case corev1.PodSucceeded, corev1.PodFailed:
		return false
	case corev1.PodPending:
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionTrue {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func collectPod(pod *corev1.Pod, loc Location, facts *[]Fact) {
	regularRequests := map[string]qty.Qty{}
	regularLimits := map[string]qty.Qty{}

	for _, container := range pod.Spec.Containers {
		containerLoc := loc
		containerLoc.Container = container.Name

		pushResourceList(facts, containerLoc, CategoryRequested, container.Resources.Requests)
		pushResourceList(facts, containerLoc, CategoryLimit, container.Resources.Limits)

		mergeResourceList(regularRequests, container.Resources.Requests, sumQty)
		mergeResourceList(regularLimits, container.Resources.Limits, sumQty)
	}

	// The effective pod request is max(sum of containers, max of init
	// containers), see the init container resource contract. The excess over
	// the regular containers is attached at pod level so container rows still
	// add up underneath it.
	initRequests := map[string]qty.Qty{}
	initLimits := map[string]qty.Qty{}

	for _, container := range pod.Spec.InitContainers {
		mergeResourceList(initRequests, container.Resources.Requests, maxQty)
		mergeResourceList(initLimits, container.Resources.Limits, maxQty)
	}

	pushExcess(facts, loc, CategoryRequested, initRequests, regularRequests)
	pushExcess(facts, loc, CategoryLimit, initLimits, regularLimits)

	// Pod overhead counts against both requests and limits.
	pushResourceList(facts, loc, CategoryRequested, pod.Spec.Overhead)
	pushResourceList(facts, loc, CategoryLimit, pod.Spec.Overhead)

	// Every pod occupies one slot of the node's "pods" capacity.
	one := qty.MustParse(PodsKind, "1")
	*facts = append(*facts,
		Fact{Kind: PodsKind, Category: CategoryRequested, Quantity: one, Location: loc},
		Fact{Kind: PodsKind, Category: CategoryLimit, Quantity: one, Location: loc},
	)
}

func sumQty(a, b qty.Qty) qty.Qty {
	v, err := a.Add(b)
	if err != nil {
		// Keys are resource kinds, both sides share one by construction.
		panic(err)
	}

	return v
}

func maxQty(a, b qty.Qty) qty.Qty {
	v, err := a.Max(b)
	if err != nil {
		panic(err)
	}

	return v
}

func mergeResourceList(into map[string]qty.Qty, list corev1.ResourceList, op func(a, b qty.Qty) qty.Qty) {
	for name, value := range list {
		kind := string(name)
		q := qty.FromQuantity(kind, value)

		if current, ok := into[kind]; ok {
			into[kind] = op(current, q)
		} else {
			into[kind] = q
		}
	}
}

func pushExcess(facts *[]Fact, loc Location, category Category, init, regular map[string]qty.Qty) {
	for kind, initQty := range init {
		base, ok := regular[kind]
		if !ok {
			base = qty.Zero(kind)
		}

		if c, err := initQty.Cmp(base); err == nil && c > 0 {
			excess, err := initQty.Sub(base)
			if err != nil {
				continue
			}

			*facts = append(*facts, Fact{
				Kind:     kind,
				Category: category,
				Quantity: excess,
				Location: loc,
			})
		}
	}
}

func collectUsage(samples []PodSample, locations map[podKey]Location, facts *[]Fact, diags *[]Diagnostic) {
	for _, sample := range samples {
		loc, ok := locations[podKey{sample.Namespace, sample.Pod}]
		if !ok {
			// Metrics can outlive the pod listing, keep what we know.
			loc = Location{Node: UnscheduledNode, Namespace: sample.Namespace, Pod: sample.Pod}
		}

		for _, container := range sample.Containers {
			containerLoc := loc
			containerLoc.Container = container.Name

			parseTextMap(containerLoc, CategoryUsed, container.Usage, facts, diags)
		}
	}
}

func collectRecommendations(recs []Recommendation, locations map[podKey]Location, facts *[]Fact, diags *[]Diagnostic) {
	for _, rec := range recs {
		loc, ok := locations[podKey{rec.Namespace, rec.Pod}]
		if !ok {
			continue
		}

		loc.Container = rec.Container

		parseTextMap(loc, CategoryRecommended, rec.Target, facts, diags)
	}
}

func parseTextMap(loc Location, category Category, values map[string]string, facts *[]Fact, diags *[]Diagnostic) {
	for kind, text := range values {
		q, err := qty.Parse(kind, text)
		if err != nil {
			if !errors.Is(err, qty.ErrMalformedQuantity) {
				klog.ErrorS(err, "unexpected quantity parse failure", "kind", kind, "value", text)
			}

			klog.V(2).InfoS("dropping unparsable quantity",
				"namespace", loc.Namespace, "pod", loc.Pod, "container", loc.Container,
				"kind", kind, "category", category, "value", text)

			*diags = append(*diags, Diagnostic{
				Location: loc,
				Kind:     kind,
				Category: category,
				Value:    text,
				Err:      err,
			})

			continue
		}

		*facts = append(*facts, Fact{Kind: kind, Category: category, Quantity: q, Location: loc})
	}
}

// FilterByName keeps facts whose resource kind contains any of the given
// substrings. An empty filter keeps everything.
func FilterByName(facts []Fact, names []string) []Fact {
	if len(names) == 0 {
		return facts
	}

	kept := make([]Fact, 0, len(facts))

	for _, fact := range facts {
		for _, name := range names {
			if strings.Contains(fact.Kind, name) {
				kept = append(kept, fact)

				break
			}
		}
	}

	return kept
}
