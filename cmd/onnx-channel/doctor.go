package main

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-channel/ortlib"
)

func newDoctorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Locate and probe the ONNX Runtime shared library",
		Long: `Resolve the ONNX Runtime shared library the same way serve does, load it,
and report its version and whether it serves the required C API version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			rows := pterm.TableData{
				{"platform", runtime.GOOS + "/" + runtime.GOARCH},
				{"cache dir", orDefault(c.cfg.Runtime.CacheDir, ortlib.DefaultCacheDir())},
				{"requested version", c.cfg.Runtime.Version},
			}

			path, err := ortlib.ResolveLibrary(libraryOptions(c)...)
			if err != nil {
				status := "invalid candidate"
				if ortlib.IsLibraryNotFound(err) {
					status = "not found"
				}
				rows = append(rows, []string{"library", status})
				_ = pterm.DefaultTable.WithWriter(w).WithData(rows).Render()
				return fmt.Errorf("onnx runtime library: %w", err)
			}

			info, err := ortlib.Probe(path)
			rows = append(rows, []string{"library", path})
			if err != nil {
				rows = append(rows, []string{"probe", "failed"})
				_ = pterm.DefaultTable.WithWriter(w).WithData(rows).Render()
				return err
			}
			rows = append(rows,
				[]string{"runtime version", info.Version},
				[]string{"api " + strconv.Itoa(ortlib.APIVersion), strconv.FormatBool(info.APISupported)},
			)
			if err := pterm.DefaultTable.WithWriter(w).WithData(rows).Render(); err != nil {
				return err
			}
			if !info.APISupported {
				return fmt.Errorf("onnx runtime %s does not serve C API version %d", info.Version, ortlib.APIVersion)
			}
			return nil
		},
	}
}

func libraryOptions(c *cli) []ortlib.LibraryOption {
	var opts []ortlib.LibraryOption
	if c.cfg.Runtime.LibraryPath != "" {
		opts = append(opts, ortlib.WithLibraryPath(c.cfg.Runtime.LibraryPath))
	}
	if c.cfg.Runtime.CacheDir != "" {
		opts = append(opts, ortlib.WithCacheDir(c.cfg.Runtime.CacheDir))
	}
	if c.cfg.Runtime.Version != "" {
		opts = append(opts, ortlib.WithVersion(c.cfg.Runtime.Version))
	}
	if c.cfg.Runtime.SkipPlatformDefaults {
		opts = append(opts, ortlib.WithoutPlatformDefaults())
	}
	return opts
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
