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

// Package cmd wires the kube-allocations CLI together.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

const rootCmdLongUsage = `
Show how cpu, memory and extended resources are requested, limited,
allocated and used across the cluster, rolled up by node, namespace,
pod or container.
`

// Error carries a process exit code alongside the cause.
type Error struct {
	Code int
	Err  error
}

func (e Error) Error() string {
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Run the root command for the kube-allocations CLI application.
func Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allocationsCommand := newAllocationsCommand()

	cmd := cobra.Command{
		Use:   "kube-allocations",
		Short: "Show cluster resource allocations",
		Long:  rootCmdLongUsage,
		Args:  allocationsCommand.Args,
		RunE:  allocationsCommand.RunE,
	}

	cmd.Flags().AddFlagSet(allocationsCommand.Flags())
	cmd.AddCommand(newVersionCmd(), allocationsCommand)

	cmd.SetHelpCommand(&cobra.Command{}) // Disable the help command

	return cmd.ExecuteContext(ctx)
}
