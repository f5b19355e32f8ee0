// Command ftl2-bundlectl is a small operational tool for inspecting
// the local bundle cache: listing cached fingerprints and printing one
// bundle's manifest. It reads internal/bundle.Cache's on-disk layout
// directly rather than linking against a running controller, the way
// this codebase's own diagnostic commands (e.g. oriys-nova/cmd/zenith)
// read state a daemon already persisted instead of calling back into
// it.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/ftl2/internal/config"
	"github.com/oriys/ftl2/internal/domain"
)

func main() {
	var cacheDir string

	root := &cobra.Command{
		Use:   "ftl2-bundlectl",
		Short: "Inspect the FTL2 local bundle cache",
	}
	root.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "bundle cache directory (defaults to the controller config default)")

	root.AddCommand(listCmd(&cacheDir), showCmd(&cacheDir))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveCacheDir(cacheDir string) string {
	if cacheDir != "" {
		return cacheDir
	}
	return config.DefaultConfig().Bundle.CacheDir
}

func listCmd(cacheDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every cached bundle fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveCacheDir(*cacheDir)
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("read cache dir %s: %w", dir, err)
			}

			var fingerprints []string
			for _, e := range entries {
				if name, ok := strings.CutSuffix(e.Name(), ".manifest.json"); ok {
					fingerprints = append(fingerprints, name)
				}
			}
			sort.Strings(fingerprints)

			for _, fp := range fingerprints {
				manifest, err := readManifest(dir, fp)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (manifest unreadable: %v)\n", fp, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  modules=%d  profile=%s/%s/%s\n",
					fp, len(manifest.Modules), manifest.Profile.InterpreterVersion, manifest.Profile.OS, manifest.Profile.Arch)
			}
			return nil
		},
	}
}

func showCmd(cacheDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <fingerprint>",
		Short: "Print one bundle's manifest as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveCacheDir(*cacheDir)
			manifest, err := readManifest(dir, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func readManifest(dir, fingerprint string) (domain.BundleManifest, error) {
	var manifest domain.BundleManifest
	data, err := os.ReadFile(filepath.Join(dir, fingerprint+".manifest.json"))
	if err != nil {
		return manifest, fmt.Errorf("read manifest %s: %w", fingerprint, err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("parse manifest %s: %w", fingerprint, err)
	}
	return manifest, nil
}
