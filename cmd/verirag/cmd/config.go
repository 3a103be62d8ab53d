package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/verirag/configs"
	"github.com/Aman-CERP/verirag/internal/config"
	"github.com/Aman-CERP/verirag/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage verirag configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/verirag/config.yaml)
  3. Project config (.verirag.yaml)
  4. Environment variables (VERIRAG_*)`,
		Example: `  # Write a project config with the defaults
  verirag config init

  # Show effective configuration
  verirag config show

  # Print the user config file path
  verirag config path`,
	}

	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write .verirag.yaml in the project directory (or the user config with
--user) filled with the default settings.

With --force an existing file is backed up, then rewritten with its own
settings kept and any missing settings filled from the defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := filepath.Join(root.root(), config.ProjectConfigName), configs.ProjectConfigTemplate
			if user {
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			}
			return runConfigInit(cmd, path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Back up and upgrade an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or one source
alone with --source.`,
		Example: `  verirag config show
  verirag config show --json
  verirag config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, root, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

// runConfigInit writes the commented template to a new path. An existing
// file is only touched with force: it is backed up and rewritten as its own
// settings over the defaults.
func runConfigInit(cmd *cobra.Command, path, template string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		out.Successf("Wrote configuration: %s", path)
		return nil
	}

	if !force {
		out.Warningf("Configuration already exists: %s", path)
		out.Statusf("→", "Use --force to upgrade it with new defaults (keeps your settings)")
		return nil
	}
	backup, err := config.BackupFile(path)
	if err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read existing config: %w", err)
	}
	cfg := config.NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse existing config %s: %w", path, err)
	}
	out.Statusf("→", "Backup: %s", backup)

	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	out.Successf("Wrote configuration: %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, root *rootOptions, jsonOutput bool, source string) error {
	var cfg *config.Config

	switch source {
	case "merged":
		var err error
		cfg, err = root.loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	case "defaults":
		cfg = config.NewConfig()
	case "user":
		var err error
		cfg, err = config.LoadUserConfig()
		if err != nil {
			return err
		}
		if cfg == nil {
			out := output.New(cmd.OutOrStdout())
			out.Warningf("No user configuration file found")
			out.Statusf("→", "Expected at: %s", config.GetUserConfigPath())
			return nil
		}
	default:
		return fmt.Errorf("unknown config source %q (want merged, user or defaults)", source)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
