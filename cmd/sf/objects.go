package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/repo"
	"statusflow/internal/report"
)

func objectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "object", Short: "Track objects through their workflow"}
	cmd.AddCommand(objectCreateCmd())
	cmd.AddCommand(objectListCmd())
	cmd.AddCommand(objectShowCmd())
	cmd.AddCommand(objectSetCmd())
	cmd.AddCommand(objectMoveCmd())
	cmd.AddCommand(objectOptionsCmd())
	return cmd
}

// resolveFields turns name=value or id=value pairs into field ids.
func resolveFields(ctx context.Context, e engine.Engine, objectType string, pairs []string) (map[int64]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	defs, err := e.ListFields(ctx, e.Config.Project.ID, objectType)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(defs))
	for _, f := range defs {
		byName[f.Name] = f.ID
	}
	out := make(map[int64]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q (want name=value)", pair)
		}
		key = strings.TrimSpace(key)
		id, known := byName[key]
		if !known {
			parsed, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unknown field %q for %s", key, objectType)
			}
			id = parsed
		}
		out[id] = value
	}
	return out, nil
}

// resolveStatus accepts a status id or a status name of objectType.
func resolveStatus(ctx context.Context, e engine.Engine, objectType, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	defs, err := e.QueryStatuses(ctx, repo.StatusQuery{ProjectID: e.Config.Project.ID, ObjectType: objectType, Name: ref})
	if err != nil {
		return 0, err
	}
	if len(defs) == 0 {
		return 0, fmt.Errorf("status %q of %s: %w", ref, objectType, repo.ErrNotFound)
	}
	return defs[0].ID, nil
}

func printObject(o domain.TrackedObject) error {
	if viper.GetBool("json") {
		return printJSON(o)
	}
	fmt.Printf("%s  %s [%s]\n", o.ID, o.Title, o.ObjectType)
	fmt.Printf("status %d  owner %s  creator %s  version %d\n", o.StatusID, o.OwnerID, o.CreatorID, o.Version)
	ids := make([]int64, 0, len(o.Fields))
	for id := range o.Fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Printf("  #%d = %s\n", id, o.Fields[id])
	}
	return nil
}

func objectCreateCmd() *cobra.Command {
	var objectType, title, status, owner string
	var fields []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an object in the first START status of its type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				values, err := resolveFields(ctx, e, objectType, fields)
				if err != nil {
					return err
				}
				opts := engine.ObjectCreateOptions{
					ProjectID:  e.Config.Project.ID,
					ObjectType: objectType,
					Title:      title,
					OwnerID:    owner,
					Fields:     values,
					ActorID:    viper.GetString("actor-id"),
				}
				if status != "" {
					if opts.StatusID, err = resolveStatus(ctx, e, objectType, status); err != nil {
						return err
					}
				}
				o, err := e.CreateObject(ctx, opts)
				if err != nil {
					return err
				}
				return printObject(o)
			})
		},
	}
	cmd.Flags().StringVar(&objectType, "type", "", "object type")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&status, "status", "", "initial status id or name")
	cmd.Flags().StringVar(&owner, "owner", "", "initial owner")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field value as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func objectListCmd() *cobra.Command {
	var objectType, status, owner string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.ObjectFilters{ProjectID: e.Config.Project.ID, ObjectType: objectType, OwnerID: owner, Limit: limit}
				if status != "" {
					id, err := resolveStatus(ctx, e, objectType, status)
					if err != nil {
						return err
					}
					f.StatusID = id
				}
				items, err := e.ListObjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Type", "Title", "Status", "Owner", "Version"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.ObjectType, o.Title, o.StatusID, o.OwnerID, o.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&objectType, "type", "", "object type")
	cmd.Flags().StringVar(&status, "status", "", "status id or name")
	cmd.Flags().StringVar(&owner, "owner", "", "owner")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func objectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				return printObject(o)
			})
		},
	}
}

func objectSetCmd() *cobra.Command {
	var fields []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Set field values; an empty value clears the field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				values, err := resolveFields(ctx, e, o.ObjectType, fields)
				if err != nil {
					return err
				}
				updated, err := e.SetObjectFields(ctx, engine.SetFieldsRequest{
					ObjectID:        o.ID,
					Fields:          values,
					ActorID:         viper.GetString("actor-id"),
					ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				return printObject(updated)
			})
		},
	}
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field value as name=value (repeatable)")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the object is at this version")
	return cmd
}

func objectMoveCmd() *cobra.Command {
	var to string
	var expected int64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Transition an object to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				target, err := resolveStatus(ctx, e, o.ObjectType, to)
				if err != nil {
					return err
				}
				actor := viper.GetString("actor-id")
				if dryRun {
					err := e.CheckTransition(ctx, o.ID, target, actor)
					if engine.Outcome(err) == "error" {
						return err
					}
					out := map[string]any{"allowed": err == nil, "code": engine.Outcome(err)}
					if err != nil {
						out["reason"] = err.Error()
					}
					return printJSONOrTable(out)
				}
				moved, err := e.TransitionObject(ctx, engine.TransitionRequest{
					ObjectID:        o.ID,
					TargetStatusID:  target,
					ActorID:         actor,
					ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				return printObject(moved)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status id or name")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the object is at this version")
	cmd.Flags().BoolVar(&dryRun, "check", false, "only report whether the move would succeed")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func objectOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options <id>",
		Short: "List the statuses an object may move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts, err := e.AvailableTransitions(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(opts)
				}
				tw := newTable(table.Row{"ID", "Status", "Allowed", "Reason"})
				for _, opt := range opts {
					tw.AppendRow(table.Row{opt.Status.ID, opt.Status.Name, opt.Allowed, opt.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Render workflow reports"}
	var objectType, out string
	render := &cobra.Command{
		Use:   "render",
		Short: "Render the workflow of an object type as self-contained HTML",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rd, err := report.NewRenderer(e.Config.Report, viper.GetString("workspace"), log, nil)
				if err != nil {
					return err
				}
				res, err := e.RenderReport(ctx, rd, e.Config.Project.ID, objectType, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if out != "" {
					if err := os.WriteFile(out, []byte(res.HTML), 0o644); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"location": res.Location, "file": out, "stats": res.Stats})
				}
				if out == "" && res.Location == "" {
					fmt.Println(res.HTML)
					return nil
				}
				fmt.Printf("inlined %d images (%d scaled, %d dropped)\n", res.Stats.Inlined, res.Stats.Scaled, res.Stats.Dropped)
				if out != "" {
					fmt.Println("written to", out)
				}
				if res.Location != "" {
					fmt.Println("published to", res.Location)
				}
				return nil
			})
		},
	}
	render.Flags().StringVar(&objectType, "type", "", "object type")
	render.Flags().StringVarP(&out, "out", "o", "", "write HTML to this file")
	_ = render.MarkFlagRequired("type")
	cmd.AddCommand(render)
	return cmd
}
