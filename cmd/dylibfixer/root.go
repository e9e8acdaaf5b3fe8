// SPDX-License-Identifier: BSD-2-Clause

// Package cmd contains all CLI commands for dylibfixer.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging and verbose error output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "dylibfixer",
		Short: "Bundle a Mach-O binary's dylib dependency tree",
		Long: TitleStyle.Render("dylibfixer") + SubtitleStyle.Render(" - self-contained dylib bundles for Mach-O binaries") + `

dylibfixer recursively processes the dylib dependency tree of a Mach-O
binary, copying every nested dependency into a single directory and
rewriting all references so the result runs across macOS systems without
relying on non-standard system-installed libraries.

To produce a self-contained app bundle:

  1. Choose a destination directory inside the app bundle structure.
  2. Choose a dest-ldpath that references it without absolute paths;
     @executable_path is recommended for standalone applications,
     @loader_path when the binary is itself dynamically loaded.
  3. Optionally pass library directories (-l) where missing dylibs can
     be found (e.g. /usr/local/lib).

` + SubtitleStyle.Render("Example:") + `
  Bundle root:        ./com.mybundle.app
  Bundle executable:  ./com.mybundle.app/Contents/MacOS/com.mybundle
  Destination path:   ./com.mybundle.app/Contents/libs
  Destination ldpath: @loader_path/../libs

  dylibfixer bundle -b ./com.mybundle.app/Contents/MacOS/com.mybundle \
                    -d ./com.mybundle.app/Contents/libs \
                    -r @loader_path/../libs \
                    -l ./build/libs -l /usr/local/lib`,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <config-dir>/dylibfixer/config.cue)")

	// Add subcommands
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(configCmd)
}

// ExitError carries a specific process exit code through the cobra/fang
// error path.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	// fang supplies styled help/version output and signal handling.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
