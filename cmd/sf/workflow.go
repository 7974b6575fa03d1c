package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "status", Short: "Manage status definitions"}
	cmd.AddCommand(statusListCmd())
	cmd.AddCommand(statusShowCmd())
	cmd.AddCommand(statusCreateCmd())
	cmd.AddCommand(statusUpdateCmd())
	cmd.AddCommand(statusDeleteCmd())
	return cmd
}

func parseCategoryList(s string) ([]domain.StatusCategory, error) {
	var out []domain.StatusCategory
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := domain.ParseStatusCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func statusListCmd() *cobra.Command {
	var objectType, name, category, in, notIn, sort, createdFrom, createdTo string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Query status definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q := repo.StatusQuery{
					ProjectID:   e.Config.Project.ID,
					ObjectType:  objectType,
					Name:        name,
					CreatedFrom: createdFrom,
					CreatedTo:   createdTo,
					Limit:       limit,
					Offset:      offset,
				}
				var err error
				if category != "" {
					if q.Category, err = domain.ParseStatusCategory(category); err != nil {
						return err
					}
				}
				if q.CategoryIn, err = parseCategoryList(in); err != nil {
					return err
				}
				if q.CategoryNotIn, err = parseCategoryList(notIn); err != nil {
					return err
				}
				if q.Sort, err = repo.ParseSort(sort); err != nil {
					return err
				}
				defs, err := e.QueryStatuses(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := newTable(table.Row{"ID", "Type", "Name", "Category", "Color", "Next", "Required", "Who may move", "Owner on entry"})
				for _, d := range defs {
					tw.AppendRow(table.Row{
						d.ID, d.ObjectType, d.Name, d.Category.String(), d.Color,
						joinInt64s(d.TransferTo), joinInt64s(d.CheckFieldList),
						strings.Join(d.PermissionOwnerList.Strings(), ","),
						strings.Join(d.SetOwnerList.Strings(), ","),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&objectType, "type", "", "object type")
	f.StringVar(&name, "name", "", "status name")
	f.StringVar(&category, "category", "", "START, IN_PROGRESS or END")
	f.StringVar(&in, "category-in", "", "comma separated categories")
	f.StringVar(&notIn, "category-not-in", "", "comma separated categories to exclude")
	f.StringVar(&sort, "sort", "object_type asc,id asc", "sort spec")
	f.StringVar(&createdFrom, "created-from", "", "RFC3339 lower bound")
	f.StringVar(&createdTo, "created-to", "", "RFC3339 upper bound")
	f.IntVar(&limit, "limit", 0, "max rows")
	f.IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func statusShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a status definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid status id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

type statusFlags struct {
	name, category, color, remark string
	transferTo, checkFields       []string
	permissionOwners, setOwners   []string
}

func (f *statusFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "status name")
	fl.StringVar(&f.category, "category", "", "START, IN_PROGRESS or END")
	fl.StringVar(&f.color, "color", "", "display color")
	fl.StringVar(&f.remark, "remark", "", "remark (markdown)")
	fl.StringSliceVar(&f.transferTo, "transfer-to", nil, "status ids this status may move to")
	fl.StringSliceVar(&f.checkFields, "check-fields", nil, "field ids required on entry")
	fl.StringSliceVar(&f.permissionOwners, "permission-owners", nil, "tokens allowed to move objects out (owner, creater, role_<name>)")
	fl.StringSliceVar(&f.setOwners, "set-owners", nil, "tokens assigning the owner on entry")
}

func statusCreateCmd() *cobra.Command {
	var objectType string
	var sf statusFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a status definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := domain.ParseStatusCategory(sf.category)
			if err != nil {
				return err
			}
			transfer, err := parseInt64s(sf.transferTo)
			if err != nil {
				return err
			}
			checks, err := parseInt64s(sf.checkFields)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateStatus(ctx, engine.StatusInput{
					CompanyID:           e.Config.Project.Org,
					ProjectID:           e.Config.Project.ID,
					ObjectType:          objectType,
					Name:                sf.name,
					Category:            cat,
					Color:               sf.color,
					Remark:              sf.remark,
					TransferTo:          transfer,
					CheckFieldList:      checks,
					PermissionOwnerList: sf.permissionOwners,
					SetOwnerList:        sf.setOwners,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&objectType, "type", "", "object type")
	sf.bind(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func statusUpdateCmd() *cobra.Command {
	var sf statusFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a status definition; only given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid status id %q", args[0])
			}
			opts := engine.StatusUpdateOptions{ID: id, ActorID: viper.GetString("actor-id")}
			changed := cmd.Flags().Changed
			if changed("name") {
				opts.Name = &sf.name
			}
			if changed("category") {
				cat, err := domain.ParseStatusCategory(sf.category)
				if err != nil {
					return err
				}
				opts.Category = &cat
			}
			if changed("color") {
				opts.Color = &sf.color
			}
			if changed("remark") {
				opts.Remark = &sf.remark
			}
			if changed("transfer-to") {
				ids, err := parseInt64s(sf.transferTo)
				if err != nil {
					return err
				}
				opts.TransferTo = &ids
			}
			if changed("check-fields") {
				ids, err := parseInt64s(sf.checkFields)
				if err != nil {
					return err
				}
				opts.CheckFieldList = &ids
			}
			if changed("permission-owners") {
				opts.PermissionOwnerList = &sf.permissionOwners
			}
			if changed("set-owners") {
				opts.SetOwnerList = &sf.setOwners
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateStatus(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	sf.bind(cmd)
	return cmd
}

func statusDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a status no status or object refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid status id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteStatus(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
}

func fieldCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "field", Short: "Manage field definitions"}
	var listType string
	list := &cobra.Command{
		Use:   "list",
		Short: "List field definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fields, err := e.ListFields(ctx, e.Config.Project.ID, listType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fields)
				}
				tw := newTable(table.Row{"ID", "Type", "Name", "Remark"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f.ID, f.ObjectType, f.Name, f.Remark})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listType, "type", "", "object type")
	cmd.AddCommand(list)

	var objectType, name, remark string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a field definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.CreateField(ctx, domain.FieldDefinition{
					ProjectID:  e.Config.Project.ID,
					ObjectType: objectType,
					Name:       name,
					Remark:     remark,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	create.Flags().StringVar(&objectType, "type", "", "object type")
	create.Flags().StringVar(&name, "name", "", "field name")
	create.Flags().StringVar(&remark, "remark", "", "remark")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	return cmd
}
