package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/fail"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/terminal"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Inspect and initialize the configuration",
		GroupID: "system",
	}

	cmd.AddCommand(NewConfigShowCmd())
	cmd.AddCommand(NewConfigInitCmd())
	return cmd
}

func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings after applying defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fs := getFileSystem(ctx)

			configPath, err := resolveConfigPath(ctx, getGlobalOptions(ctx))
			if err != nil {
				return err
			}
			settings, err := config.Load(fs, configPath)
			if err != nil {
				return fail.NewConfigError(configPath, err)
			}

			content, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s", terminal.Dim("# "+configPath), content)
			return nil
		},
	}
}

func NewConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fs := getFileSystem(ctx)

			configPath, err := resolveConfigPath(ctx, getGlobalOptions(ctx))
			if err != nil {
				return err
			}

			exists, err := fs.Exists(configPath)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
			}

			content, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			if err := fs.WriteFile(configPath, content, 0600); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", terminal.SuccessSymbol, configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
