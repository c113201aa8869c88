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

package kube

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	vpav1 "k8s.io/autoscaler/vertical-pod-autoscaler/pkg/apis/autoscaling.k8s.io/v1"
	vpaclientset "k8s.io/autoscaler/vertical-pod-autoscaler/pkg/client/clientset/versioned"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

// UsageFunc supplies the optional live usage samples of a snapshot.
type UsageFunc func(ctx context.Context) ([]collect.PodSample, error)

// SnapshotOptions selects what FetchSnapshot retrieves beyond nodes and pods.
type SnapshotOptions struct {
	// Namespace restricts the pod listing; empty means all namespaces.
	Namespace string

	// Usage, when set, is invoked concurrently with the node and pod
	// listings. A usage failure degrades to a warning.
	Usage UsageFunc

	// VPAClient, when set, enables recommendation lookups. Failures degrade
	// to a warning.
	VPAClient vpaclientset.Interface
}

// FetchSnapshot retrieves nodes, pods, usage, and recommendations
// concurrently and hands back one immutable snapshot. Node and pod listing
// failures are fatal; the optional sources are best effort.
func FetchSnapshot(ctx context.Context, clientset kubernetes.Interface, opts SnapshotOptions) (collect.Snapshot, error) {
	var (
		snapshot collect.Snapshot
		vpas     []vpav1.VerticalPodAutoscaler
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		nodes, err := clientset.CoreV1().Nodes().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}

		snapshot.Nodes = nodes.Items

		return nil
	})

	g.Go(func() error {
		pods, err := clientset.CoreV1().Pods(opts.Namespace).List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list pods: %w", err)
		}

		snapshot.Pods = pods.Items

		return nil
	})

	if opts.Usage != nil {
		g.Go(func() error {
			samples, err := opts.Usage(gctx)
			if err != nil {
				klog.Warningf("skipping utilization: %v", err)

				return nil
			}

			snapshot.Usage = samples

			return nil
		})
	}

	if opts.VPAClient != nil {
		g.Go(func() error {
			list, err := opts.VPAClient.AutoscalingV1().VerticalPodAutoscalers(opts.Namespace).List(gctx, metav1.ListOptions{})
			if err != nil {
				klog.Warningf("skipping recommendations: %v", err)

				return nil
			}

			vpas = list.Items

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return collect.Snapshot{}, err
	}

	snapshot.Recommendations = recommendationsFromVPAs(vpas, snapshot.Pods)

	return snapshot, nil
}

// recommendationsFromVPAs maps VPA container targets onto the pods the VPA
// manages. Pods are matched by the target workload name prefix within the
// namespace, the same heuristic used for workload-scoped metrics queries.
func recommendationsFromVPAs(vpas []vpav1.VerticalPodAutoscaler, pods []corev1.Pod) []collect.Recommendation {
	var recommendations []collect.Recommendation

	for i := range vpas {
		vpa := &vpas[i]
		if vpa.Status.Recommendation == nil || vpa.Spec.TargetRef == nil {
			continue
		}

		target := vpa.Spec.TargetRef.Name
		if target == "" {
			continue
		}

		for j := range pods {
			pod := &pods[j]
			if pod.Namespace != vpa.Namespace || !matchesWorkload(pod.Name, target) {
				continue
			}

			for _, rec := range vpa.Status.Recommendation.ContainerRecommendations {
				recommendations = append(recommendations, collect.Recommendation{
					Namespace: pod.Namespace,
					Pod:       pod.Name,
					Container: rec.ContainerName,
					Target:    resourceListToText(rec.Target),
				})
			}
		}
	}

	return recommendations
}

func matchesWorkload(podName, workloadName string) bool {
	return podName == workloadName || strings.HasPrefix(podName, workloadName+"-")
}

func resourceListToText(list corev1.ResourceList) map[string]string {
	out := make(map[string]string, len(list))
	for name, value := range list {
		out[string(name)] = value.String()
	}

	return out
}
