package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/inferflow/config"
	"github.com/BaSui01/inferflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	// withCLI 每个子命令独立创建迁移器，执行完即关闭
	withCLI := func(run func(cmd *cobra.Command, cli *migration.CLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd, cli, args)
		}
	}

	var all bool
	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid steps %q: must be a positive integer", args[0])
				}
				steps = n
			}
			if all {
				steps = 0
			}
			return cli.RunDown(cmd.Context(), steps)
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every applied migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunGoto(cmd.Context(), uint(v))
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations (clears dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(cmd.Context(), v)
			}),
		},
	)
	return cmd
}
