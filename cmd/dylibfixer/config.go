// SPDX-License-Identifier: BSD-2-Clause

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ijsf/dylibfixer/internal/config"
	"github.com/ijsf/dylibfixer/internal/issue"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect dylibfixer configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE:  runConfigShow,
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Show which config file is in use",
		RunE:  runConfigPath,
	}
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewProvider().Load(cmd.Context(), config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return failWithIssue(cmd, issue.ConfigLoadFailedId, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, TitleStyle.Render("dylibfixer configuration"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, SubtitleStyle.Render("tools"))
	fmt.Fprintf(out, "  otool:             %s\n", cfg.Tools.Otool)
	fmt.Fprintf(out, "  install_name_tool: %s\n", cfg.Tools.InstallNameTool)
	fmt.Fprintln(out, SubtitleStyle.Render("exclusions"))
	for _, p := range cfg.Exclusions {
		fmt.Fprintf(out, "  %s\n", p)
	}
	fmt.Fprintln(out, SubtitleStyle.Render("library_dirs"))
	if len(cfg.LibraryDirs) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, d := range cfg.LibraryDirs {
		fmt.Fprintf(out, "  %s\n", d)
	}
	fmt.Fprintln(out, SubtitleStyle.Render("ui"))
	fmt.Fprintf(out, "  verbose: %v\n", cfg.UI.Verbose)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path, err := config.NewProvider().ResolvedPath(cmd.Context(), config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return failWithIssue(cmd, issue.ConfigLoadFailedId, err)
	}
	if strings.TrimSpace(path) == "" {
		fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("(no config file, built-in defaults)"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
