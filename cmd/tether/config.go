package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/tether/internal/config"
	"github.com/vango-dev/tether/internal/errors"
)

func configCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Long: `Show the configuration tether would run with: the project file
(tether.json, tether.yaml or tether.yml) with TETHER_* environment
overrides applied.

Examples:
  tether config
  tether config init --format yaml
  tether config validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(dir)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if cfg.Path() != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.Path())
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.PersistentFlags().StringVarP(&dir, "dir", "d", ".", "Project directory")
	cmd.AddCommand(configInitCmd(&dir), configValidateCmd(&dir))

	return cmd
}

func configInitCmd(dir *string) *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "tether.json"
			switch format {
			case "json":
			case "yaml", "yml":
				name = "tether.yaml"
			default:
				return errors.New(errors.CodeInvalidConfig).
					WithDetail(fmt.Sprintf("unknown format %q", format)).
					WithSuggestion("Use --format json or --format yaml")
			}

			if config.Exists(*dir) && !force {
				return errors.Newf(errors.CategoryConfig, "a configuration file already exists in %s", *dir).
					WithSuggestion("Pass --force to overwrite it")
			}

			path := filepath.Join(*dir, name)
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Created %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "File format (json or yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func configValidateCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(*dir)
			if err != nil {
				return err
			}
			if _, err := cfg.ServerConfig(); err != nil {
				return err
			}
			source := cfg.Path()
			if source == "" {
				source = "defaults"
			}
			success("Configuration is valid (%s)", source)
			return nil
		},
	}
}

