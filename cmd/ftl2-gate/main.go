// Command ftl2-gate is the remote-side entry stub: the long-lived
// interpreter process a controller launches on each target, over SSH
// or as a local subprocess, and drives over a length-prefixed JSON
// frame stream on stdin/stdout (spec.md §4.7/§4.8). Grounded on
// oriys-nova/cmd/agent/main.go's message-loop shape (read one framed
// message, dispatch by type, write one framed response) adapted from
// a vsock listener serving many connections to a single stdin/stdout
// session serving one controller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "ftl2-gate",
		Short: "FTL2 remote gate entry stub",
	}
	root.AddCommand(rpcCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rpcCmd() *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Serve the frame protocol over stdin/stdout until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(bundlePath, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to the staged bundle archive (tar.gz)")
	cmd.MarkFlagRequired("bundle")
	return cmd
}

func runCmd() *cobra.Command {
	var bundlePath, module, paramsJSON string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one module against a bundle and print its JSON result (diagnostic, no stream)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(bundlePath, module, paramsJSON, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to the staged bundle archive (tar.gz)")
	cmd.Flags().StringVar(&module, "module", "", "module FQCN to run")
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "module params, as a JSON object")
	cmd.MarkFlagRequired("bundle")
	cmd.MarkFlagRequired("module")
	return cmd
}
