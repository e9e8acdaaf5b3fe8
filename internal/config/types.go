// SPDX-License-Identifier: BSD-2-Clause

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ijsf/dylibfixer/internal/bundle"
)

const (
	// DefaultOtoolPath is where otool lives on a stock macOS install.
	// Defined locally to keep config decoupled from the toolchain package.
	DefaultOtoolPath = "/usr/bin/otool"
	// DefaultInstallNameToolPath is the stock install_name_tool location.
	DefaultInstallNameToolPath = "/usr/bin/install_name_tool"
)

// ErrInvalidToolPath is returned when a configured tool path is blank.
var ErrInvalidToolPath = errors.New("invalid tool path")

type (
	// Config is the effective dylibfixer configuration after merging
	// defaults, the optional config file, and environment overrides.
	Config struct {
		Tools       ToolsConfig `mapstructure:"tools"`
		Exclusions  []string    `mapstructure:"exclusions"`
		LibraryDirs []string    `mapstructure:"library_dirs"`
		UI          UIConfig    `mapstructure:"ui"`
	}

	// ToolsConfig holds the external tool locations.
	ToolsConfig struct {
		Otool           string `mapstructure:"otool"`
		InstallNameTool string `mapstructure:"install_name_tool"`
	}

	// UIConfig holds presentation settings.
	UIConfig struct {
		Verbose bool `mapstructure:"verbose"`
	}
)

// DefaultConfig returns the built-in configuration used when no config file
// is present.
func DefaultConfig() *Config {
	return &Config{
		Tools: ToolsConfig{
			Otool:           DefaultOtoolPath,
			InstallNameTool: DefaultInstallNameToolPath,
		},
		Exclusions: bundle.DefaultExclusions,
	}
}

// Validate checks constraints the CUE schema cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tools.Otool) == "" {
		return fmt.Errorf("%w: tools.otool is blank", ErrInvalidToolPath)
	}
	if strings.TrimSpace(c.Tools.InstallNameTool) == "" {
		return fmt.Errorf("%w: tools.install_name_tool is blank", ErrInvalidToolPath)
	}
	return nil
}
