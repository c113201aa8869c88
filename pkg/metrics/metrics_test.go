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

package metrics_test

import (
	"context"
	"strings"
	"testing"
	"time"

	v1prometheus "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/kube-allocations/pkg/collect"
	"github.com/sergelogvinov/kube-allocations/pkg/metrics"
)

// fakePromAPI answers cpu and memory queries with canned vectors and leaves
// the rest of the interface unimplemented.
type fakePromAPI struct {
	v1prometheus.API

	cpu model.Vector
	mem model.Vector
}

func (f fakePromAPI) Query(_ context.Context, query string, _ time.Time, _ ...v1prometheus.Option) (model.Value, v1prometheus.Warnings, error) {
	if strings.Contains(query, "container_cpu_usage_seconds_total") {
		return f.cpu, nil, nil
	}

	return f.mem, nil, nil
}

func promSample(namespace, pod, container string, value float64) *model.Sample {
	return &model.Sample{
		Metric: model.Metric{
			"namespace": model.LabelValue(namespace),
			"pod":       model.LabelValue(pod),
			"container": model.LabelValue(container),
		},
		Value: model.SampleValue(value),
	}
}

func TestFromPrometheus(t *testing.T) {
	client := fakePromAPI{
		cpu: model.Vector{
			promSample("default", "web-1", "app", 0.25),
			promSample("default", "web-1", "sidecar", 0.01),
			promSample("storage", "db-1", "postgres", 1.5),
		},
		mem: model.Vector{
			promSample("default", "web-1", "app", 128*1024*1024),
		},
	}

	samples, err := metrics.FromPrometheus(context.Background(), client, "", "5m", "avg")
	require.NoError(t, err)
	require.Len(t, samples, 2)

	web := samples[0]
	assert.Equal(t, "default", web.Namespace)
	assert.Equal(t, "web-1", web.Pod)
	require.Len(t, web.Containers, 2)
	assert.Equal(t, collect.ContainerSample{
		Name:  "app",
		Usage: map[string]string{"cpu": "250m", "memory": "134217728"},
	}, web.Containers[0])
	assert.Equal(t, map[string]string{"cpu": "10m"}, web.Containers[1].Usage)

	db := samples[1]
	assert.Equal(t, "storage", db.Namespace)
	assert.Equal(t, map[string]string{"cpu": "1500m"}, db.Containers[0].Usage)
}
