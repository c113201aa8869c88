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

package kube_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"
	"github.com/sergelogvinov/kube-allocations/pkg/kube"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	vpav1 "k8s.io/autoscaler/vertical-pod-autoscaler/pkg/apis/autoscaling.k8s.io/v1"
	vpafake "k8s.io/autoscaler/vertical-pod-autoscaler/pkg/client/clientset/versioned/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

func TestFetchSnapshot(t *testing.T) {
	clientset := k8sfake.NewClientset(
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-a"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "db-1", Namespace: "storage"}},
	)

	snapshot, err := kube.FetchSnapshot(context.Background(), clientset, kube.SnapshotOptions{})
	require.NoError(t, err)

	assert.Len(t, snapshot.Nodes, 1)
	assert.Len(t, snapshot.Pods, 2)
	assert.Empty(t, snapshot.Usage)
	assert.Empty(t, snapshot.Recommendations)
}

func TestFetchSnapshotUsage(t *testing.T) {
	clientset := k8sfake.NewClientset(
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-a"}},
	)

	samples := []collect.PodSample{
		{
			Namespace: "default",
			Pod:       "web-1",
			Containers: []collect.ContainerSample{
				{Name: "app", Usage: map[string]string{"cpu": "90m"}},
			},
		},
	}

	snapshot, err := kube.FetchSnapshot(context.Background(), clientset, kube.SnapshotOptions{
		Usage: func(_ context.Context) ([]collect.PodSample, error) {
			return samples, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, samples, snapshot.Usage)

	// A failing usage source degrades to an empty snapshot, never an error.
	snapshot, err = kube.FetchSnapshot(context.Background(), clientset, kube.SnapshotOptions{
		Usage: func(_ context.Context) ([]collect.PodSample, error) {
			return nil, errors.New("metrics-server unavailable")
		},
	})
	require.NoError(t, err)
	assert.Empty(t, snapshot.Usage)
}

func TestFetchSnapshotRecommendations(t *testing.T) {
	clientset := k8sfake.NewClientset(
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-a"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-abc123", Namespace: "default"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "webmail-1", Namespace: "default"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-abc123", Namespace: "other"}},
	)

	vpaClient := vpafake.NewSimpleClientset(&vpav1.VerticalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec: vpav1.VerticalPodAutoscalerSpec{
			TargetRef: &autoscalingv1.CrossVersionObjectReference{
				Kind: "Deployment",
				Name: "web",
			},
		},
		Status: vpav1.VerticalPodAutoscalerStatus{
			Recommendation: &vpav1.RecommendedPodResources{
				ContainerRecommendations: []vpav1.RecommendedContainerResources{
					{
						ContainerName: "app",
						Target: corev1.ResourceList{
							corev1.ResourceCPU: resource.MustParse("150m"),
						},
					},
				},
			},
		},
	})

	snapshot, err := kube.FetchSnapshot(context.Background(), clientset, kube.SnapshotOptions{
		VPAClient: vpaClient,
	})
	require.NoError(t, err)

	// Only the prefix-matched pod in the VPA's namespace is covered:
	// "webmail-1" and the pod in "other" are not.
	require.Len(t, snapshot.Recommendations, 1)

	rec := snapshot.Recommendations[0]
	assert.Equal(t, "default", rec.Namespace)
	assert.Equal(t, "web-abc123", rec.Pod)
	assert.Equal(t, "app", rec.Container)
	assert.Equal(t, map[string]string{"cpu": "150m"}, rec.Target)
}
