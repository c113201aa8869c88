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

// Package metrics retrieves live usage samples for pods, either from the
// Kubernetes Metrics API (metrics.k8s.io) or from a Prometheus server.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	v1prometheus "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"

	"k8s.io/client-go/kubernetes"
)

const podMetricsPath = "/apis/metrics.k8s.io/v1beta1"

// podMetricsList mirrors the metrics.k8s.io wire format. Usage values stay
// as text so a single malformed quantity is dropped by the collector with a
// diagnostic instead of failing the whole decode.
type podMetricsList struct {
	Items []podMetrics `json:"items"`
}

type podMetrics struct {
	Metadata struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Containers []struct {
		Name  string            `json:"name"`
		Usage map[string]string `json:"usage"`
	} `json:"containers"`
}

// FromMetricsAPI lists the current pod usage snapshot from metrics.k8s.io.
// An empty namespace means all namespaces. Fails when the metrics-server is
// not installed, which callers treat as "no usage available".
func FromMetricsAPI(ctx context.Context, clientset kubernetes.Interface, namespace string) ([]collect.PodSample, error) {
	path := podMetricsPath + "/pods"
	if namespace != "" {
		path = fmt.Sprintf("%s/namespaces/%s/pods", podMetricsPath, namespace)
	}

	raw, err := clientset.CoreV1().RESTClient().Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pod metrics, maybe the Metrics API is not available: %w", err)
	}

	var list podMetricsList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode pod metrics: %w", err)
	}

	samples := make([]collect.PodSample, 0, len(list.Items))

	for _, item := range list.Items {
		sample := collect.PodSample{
			Namespace: item.Metadata.Namespace,
			Pod:       item.Metadata.Name,
		}

		for _, container := range item.Containers {
			sample.Containers = append(sample.Containers, collect.ContainerSample{
				Name:  container.Name,
				Usage: container.Usage,
			})
		}

		samples = append(samples, sample)
	}

	return samples, nil
}

// FromPrometheus queries a Prometheus server for per-container cpu and
// memory usage over the given window. Aggregation is avg or max.
func FromPrometheus(ctx context.Context, client v1prometheus.API, namespace, window, aggregation string) ([]collect.PodSample, error) {
	if aggregation != "avg" && aggregation != "max" {
		aggregation = "avg" // default fallback
	}

	selector := `container!="",pod!=""`
	if namespace != "" {
		selector = fmt.Sprintf(`namespace=%q,%s`, namespace, selector)
	}

	cpuQuery := fmt.Sprintf(`sum by (namespace, pod, container) (rate(container_cpu_usage_seconds_total{%s}[%s]))`, selector, window)
	memQuery := fmt.Sprintf(`sum by (namespace, pod, container) (%s_over_time(container_memory_working_set_bytes{%s}[%s]))`, aggregation, selector, window)

	byPod := map[sampleKey]map[string]map[string]string{}

	err := queryIntoSamples(ctx, client, cpuQuery, byPod, "cpu", func(v float64) string {
		return fmt.Sprintf("%dm", int64(v*1000))
	})
	if err != nil {
		return nil, err
	}

	err = queryIntoSamples(ctx, client, memQuery, byPod, "memory", func(v float64) string {
		return fmt.Sprintf("%d", int64(v))
	})
	if err != nil {
		return nil, err
	}

	return flattenSamples(byPod), nil
}

type sampleKey struct {
	namespace string
	pod       string
}

func queryIntoSamples(
	ctx context.Context,
	client v1prometheus.API,
	query string,
	byPod map[sampleKey]map[string]map[string]string,
	kind string,
	format func(float64) string,
) error {
	result, _, err := client.Query(ctx, query, time.Now())
	if err != nil {
		return fmt.Errorf("prometheus query failed: %w", err)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return fmt.Errorf("unexpected prometheus result type %q", result.Type())
	}

	for _, sample := range vector {
		key := sampleKey{
			namespace: string(sample.Metric["namespace"]),
			pod:       string(sample.Metric["pod"]),
		}
		container := string(sample.Metric["container"])

		containers, ok := byPod[key]
		if !ok {
			containers = map[string]map[string]string{}
			byPod[key] = containers
		}

		usage, ok := containers[container]
		if !ok {
			usage = map[string]string{}
			containers[container] = usage
		}

		usage[kind] = format(float64(sample.Value))
	}

	return nil
}

func flattenSamples(byPod map[sampleKey]map[string]map[string]string) []collect.PodSample {
	keys := make([]sampleKey, 0, len(byPod))
	for key := range byPod {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].namespace != keys[j].namespace {
			return keys[i].namespace < keys[j].namespace
		}

		return keys[i].pod < keys[j].pod
	})

	samples := make([]collect.PodSample, 0, len(keys))

	for _, key := range keys {
		sample := collect.PodSample{Namespace: key.namespace, Pod: key.pod}

		names := make([]string, 0, len(byPod[key]))
		for name := range byPod[key] {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			sample.Containers = append(sample.Containers, collect.ContainerSample{
				Name:  name,
				Usage: byPod[key][name],
			})
		}

		samples = append(samples, sample)
	}

	return samples
}
