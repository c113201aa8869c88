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
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1prometheus "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/spf13/cobra"

	"github.com/sergelogvinov/kube-allocations/pkg/aggregate"
	"github.com/sergelogvinov/kube-allocations/pkg/collect"
	"github.com/sergelogvinov/kube-allocations/pkg/kube"
	"github.com/sergelogvinov/kube-allocations/pkg/metrics"

	"k8s.io/client-go/kubernetes"
)

const globalUsage = `
Show requested, limited, allocatable and used quantities for every resource
kind observed in the cluster, including extended resources, grouped along a
configurable hierarchy of nodes, namespaces, pods and containers.
`

func newAllocationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocations [flags]",
		Short: "Show cluster resource allocations",
		Long:  globalUsage,
		Example: strings.Join([]string{
			"  kube-allocations",
			"  kube-allocations --namespace production --group-by namespace,pod",
			"  kube-allocations --utilization --resource-name gpu -o csv",
		}, "\n"),
		Args: cobra.NoArgs,
		RunE: runAllocations,
	}

	cmd.Flags().String("kubeconfig", "", "path to the kubeconfig file")
	cmd.Flags().String("context", "", "name of the kubeconfig context to use")
	cmd.Flags().StringP("namespace", "n", "", "show only pods from this namespace")
	cmd.Flags().BoolP("utilization", "u", false, "retrieve live usage, requires metrics-server or --prometheus-url")
	cmd.Flags().Bool("recommendations", false, "retrieve VerticalPodAutoscaler request recommendations")
	cmd.Flags().String("prometheus-url", "", "Prometheus server URL for usage metrics (e.g., http://prometheus:9090)")
	cmd.Flags().String("metrics-window", "5m", "time window for Prometheus usage queries (e.g., 5m, 1h)")
	cmd.Flags().String("aggregation", "avg", "aggregation function for Prometheus usage (avg, max)")
	cmd.Flags().BoolP("show-zero", "z", false, "show rows with zero requested, zero limit and zero allocatable")
	cmd.Flags().StringSliceP("resource-name", "r", nil, "filter resource kinds by substring, all kinds by default")
	cmd.Flags().StringSliceP("group-by", "g", nil, "hierarchy levels to roll up through (node, namespace, pod, container)")
	cmd.Flags().StringP("output", "o", "table", "output format (table, csv, json, yaml)")

	return cmd
}

func runAllocations(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	kubeconfig, _ := flags.GetString("kubeconfig")           //nolint: errcheck
	kubecontext, _ := flags.GetString("context")             //nolint: errcheck
	namespace, _ := flags.GetString("namespace")             //nolint: errcheck
	utilization, _ := flags.GetBool("utilization")           //nolint: errcheck
	recommendations, _ := flags.GetBool("recommendations")   //nolint: errcheck
	prometheusURL, _ := flags.GetString("prometheus-url")    //nolint: errcheck
	metricsWindow, _ := flags.GetString("metrics-window")    //nolint: errcheck
	aggregation, _ := flags.GetString("aggregation")         //nolint: errcheck
	showZero, _ := flags.GetBool("show-zero")                //nolint: errcheck
	resourceNames, _ := flags.GetStringSlice("resource-name") //nolint: errcheck
	groupBy, _ := flags.GetStringSlice("group-by")           //nolint: errcheck
	outputFormat, _ := flags.GetString("output")             //nolint: errcheck

	levels, err := aggregate.ParseLevels(groupBy)
	if err != nil {
		return err
	}

	config, err := kube.NewRESTConfig(kubeconfig, kubecontext)
	if err != nil {
		return err
	}

	clientset, err := kube.NewClientset(config)
	if err != nil {
		return err
	}

	opts := kube.SnapshotOptions{Namespace: namespace}

	if utilization {
		opts.Usage, err = usageSource(clientset, namespace, prometheusURL, metricsWindow, aggregation)
		if err != nil {
			return err
		}
	}

	if recommendations {
		opts.VPAClient, err = kube.NewVPAClientset(config)
		if err != nil {
			return err
		}
	}

	snapshot, err := kube.FetchSnapshot(ctx, clientset, opts)
	if err != nil {
		return fmt.Errorf("failed to fetch cluster snapshot: %w", err)
	}

	facts, diags := collect.Collect(snapshot)
	facts = collect.FilterByName(facts, resourceNames)

	root, err := aggregate.Aggregate(facts, levels)
	if err != nil {
		return fmt.Errorf("failed to aggregate resources: %w", err)
	}

	columns := tableColumns{
		Utilization:     snapshot.Usage != nil,
		Recommendations: len(snapshot.Recommendations) > 0,
	}

	switch outputFormat {
	case "json":
		err = outputJSON(root)
	case "yaml":
		err = outputYAML(root)
	case "csv":
		err = outputCSV(root, levels, columns)
	default:
		err = outputTable(root, columns, showZero)
	}

	if err != nil {
		return err
	}

	if len(diags) > 0 {
		fmt.Fprintf(os.Stderr, "\nskipped %d unparsable quantities\n", len(diags))
	}

	return nil
}

func usageSource(clientset *kubernetes.Clientset, namespace, prometheusURL, window, aggregation string) (kube.UsageFunc, error) {
	if prometheusURL == "" {
		return func(ctx context.Context) ([]collect.PodSample, error) {
			return metrics.FromMetricsAPI(ctx, clientset, namespace)
		}, nil
	}

	promClient, err := api.NewClient(api.Config{
		Address: prometheusURL,
		RoundTripper: &http.Transport{
			IdleConnTimeout: 30 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	promAPI := v1prometheus.NewAPI(promClient)

	return func(ctx context.Context) ([]collect.PodSample, error) {
		return metrics.FromPrometheus(ctx, promAPI, namespace, window, aggregation)
	}, nil
}
