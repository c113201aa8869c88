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

// Package kube owns the cluster-facing side of the tool: client construction
// and the concurrent snapshot fetch that feeds the collector.
package kube

import (
	"fmt"

	vpaclientset "k8s.io/autoscaler/vertical-pod-autoscaler/pkg/client/clientset/versioned"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewRESTConfig resolves the cluster connection from an explicit kubeconfig
// path and context, the usual kubeconfig discovery chain, or in-cluster
// configuration as a last resort.
func NewRESTConfig(kubeconfig, kubecontext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubecontext}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err == nil {
		return config, nil
	}

	if inCluster, inErr := rest.InClusterConfig(); inErr == nil {
		return inCluster, nil
	}

	return nil, fmt.Errorf("failed to load kubernetes configuration: %w", err)
}

// NewClientset builds the core clientset from a resolved configuration.
func NewClientset(config *rest.Config) (*kubernetes.Clientset, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return clientset, nil
}

// NewVPAClientset builds the VerticalPodAutoscaler clientset used for
// recommendation lookups.
func NewVPAClientset(config *rest.Config) (vpaclientset.Interface, error) {
	client, err := vpaclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vpa client: %w", err)
	}

	return client, nil
}
