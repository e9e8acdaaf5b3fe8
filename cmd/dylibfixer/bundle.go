// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ijsf/dylibfixer/internal/bundle"
	"github.com/ijsf/dylibfixer/internal/config"
	"github.com/ijsf/dylibfixer/internal/issue"
	"github.com/ijsf/dylibfixer/internal/macho"
)

var (
	bundleBinary      string
	bundleDestDir     string
	bundleLoadPath    string
	bundleLibraryDirs []string

	bundleCmd = &cobra.Command{
		Use:   "bundle",
		Short: "Copy a binary's dylib dependency tree and rewrite its references",
		Long: `Recursively copies every non-system dylib the binary depends on into the
destination directory, sets each copy's identity to its bare filename, and
rewrites all references to <dest-ldpath>/<filename>. The destination
directory must already exist.`,
		RunE: runBundle,
	}
)

func init() {
	f := bundleCmd.Flags()
	f.StringVarP(&bundleBinary, "bundle", "b", "", "path to the app bundle binary")
	f.StringVarP(&bundleDestDir, "dest-dir", "d", "", "destination directory for copied dylibs (must exist)")
	f.StringVarP(&bundleLoadPath, "dest-ldpath", "r", "", "load path prefix written into rewritten references, e.g. @loader_path/../libs")
	f.StringArrayVarP(&bundleLibraryDirs, "library-dir", "l", nil, "directory to search for missing dylibs (repeatable)")

	for _, flag := range []string{"bundle", "dest-dir", "dest-ldpath"} {
		if err := bundleCmd.MarkFlagRequired(flag); err != nil {
			panic(err)
		}
	}
}

func runBundle(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.NewProvider().Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return failWithIssue(cmd, issue.ConfigLoadFailedId, err)
	}
	if cfg.UI.Verbose {
		verbose = true
	}

	if err := validateBundleSetup(bundleBinary, bundleDestDir); err != nil {
		return failWithIssue(cmd, setupIssueId(err), err)
	}

	logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		ReportTimestamp: false,
		Prefix:          "dylibfixer",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	rules, err := bundle.CompileRules(cfg.Exclusions)
	if err != nil {
		return failWithIssue(cmd, issue.ConfigLoadFailedId, err)
	}

	// Config-file library dirs come first; -l flags append after them.
	libDirs := append(append([]string{}, cfg.LibraryDirs...), bundleLibraryDirs...)

	b := bundle.New(bundle.Options{
		Tools:        macho.NewExecToolchain(cfg.Tools.Otool, cfg.Tools.InstallNameTool),
		Excludes:     rules,
		DestDir:      bundleDestDir,
		DestLoadPath: bundleLoadPath,
		LibraryDirs:  libDirs,
		Out:          cmd.OutOrStdout(),
		Logger:       logger,
	})

	if err := b.Run(ctx, bundleBinary); err != nil {
		return failWithIssue(cmd, bundleIssueId(err), err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" bundle complete: "+bundleDestDir)
	return nil
}

// validateBundleSetup checks the user-supplied paths before any work starts.
func validateBundleSetup(binary, destDir string) error {
	if _, err := os.Stat(binary); err != nil {
		return issue.NewErrorContext().
			WithOperation("bundle binary").
			WithResource(binary).
			WithSuggestion("The path should point at the Mach-O executable inside the app bundle").
			Wrap(errBinaryNotFound).
			BuildError()
	}
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return issue.NewErrorContext().
			WithOperation("bundle binary").
			WithResource(destDir).
			WithSuggestion("Create the destination directory first: mkdir -p " + destDir).
			Wrap(errDestinationNotFound).
			BuildError()
	}
	return nil
}

var (
	errBinaryNotFound      = errors.New("bundle binary not found")
	errDestinationNotFound = errors.New("destination directory not found")
)

// setupIssueId maps a setup validation failure to its catalog entry.
func setupIssueId(err error) issue.Id {
	if errors.Is(err, errDestinationNotFound) {
		return issue.DestinationNotFoundId
	}
	return issue.BinaryNotFoundId
}

// bundleIssueId maps a traversal failure to its catalog entry.
func bundleIssueId(err error) issue.Id {
	switch {
	case errors.Is(err, bundle.ErrDependencyNotFound):
		return issue.DependencyNotFoundId
	case errors.Is(err, macho.ErrToolFailed):
		return issue.ToolFailedId
	default:
		return 0
	}
}

// failWithIssue prints the error (with suggestions, and in verbose mode the
// rendered help for the matching known issue) and converts it to a non-zero
// exit.
func failWithIssue(cmd *cobra.Command, id issue.Id, err error) error {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		fmt.Fprintln(cmd.ErrOrStderr(), ErrorStyle.Render("Error: ")+ae.Format(verbose))
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), ErrorStyle.Render("Error: ")+err.Error())
	}

	if verbose {
		if known := issue.ForId(id); known != nil {
			if help, rerr := known.Render("dark"); rerr == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), help)
			}
		}
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return &ExitError{Code: 1}
}
