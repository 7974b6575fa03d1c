package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"statusflow/internal/config"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Org", "Status", "Created", "Description"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.OrgID, p.Status, p.CreatedAt, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, desc, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project and seed its workflow",
		Long:  "Seeds roles, fields and statuses from --file, or from the built-in task/bug workflow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default(id)
			if file != "" {
				loaded, err := config.FromFile(file)
				if err != nil {
					return err
				}
				cfg = loaded
				if id == "" {
					id = cfg.Project.ID
				}
				cfg.Project.ID = id
			}
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, cfg)
				p, err := e.InitProjectWithConfig(ctx, id, desc, viper.GetString("actor-id"), cfg)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&file, "file", "", "workflow YAML to seed from")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current project and object counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountObjectsByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "object_counts": counts})
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				defs, err := e.QueryStatuses(ctx, repo.StatusQuery{
					ProjectID: projectID,
					Sort:      []repo.SortField{{Field: "object_type"}, {Field: "category"}, {Field: "id"}},
				})
				if err != nil {
					return err
				}
				tw := newTable(table.Row{"Type", "Status", "Category", "Objects"})
				for _, d := range defs {
					tw.AppendRow(table.Row{d.ObjectType, d.Name, d.Category.String(), counts[d.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, e.Config.Project.ID, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active or archived")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Project workflow config"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(e.Config)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a workflow YAML (default: workspace statusflow.yml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d object types)\n", path, len(cfg.ObjectTypes))
			return nil
		},
	})
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Roles and permissions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	})
	cmd.AddCommand(rbacRoleCmd("grant", true))
	cmd.AddCommand(rbacRoleCmd("revoke", false))
	return cmd
}

func rbacRoleCmd(use string, grant bool) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: strings.ToUpper(use[:1]) + use[1:] + " a project role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				by := viper.GetString("actor-id")
				if grant {
					return e.GrantRole(ctx, e.Config.Project.ID, target, role, by)
				}
				return e.RevokeRole(ctx, e.Config.Project.ID, target, role, by)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}
