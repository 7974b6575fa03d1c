package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statusflow/internal/app"
	"statusflow/internal/db"
	"statusflow/internal/engine"
	"statusflow/internal/metrics"
	"statusflow/internal/migrate"
	"statusflow/internal/report"
	"statusflow/internal/repo"
	"statusflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Statusflow CLI",
	Long: `Statusflow moves tracked objects through configurable workflows.
- Workspace: a directory holding .statusflow/statusflow.db and an optional statusflow.yml.
- Status: a named state of an object type with a transfer list, required fields and owner rules.
- Transition: moving an object to one of its status' transfer targets. The actor must be allowed
  to leave the current status and every required field of the target must be set.
- Report: the workflow of an object type as self-contained HTML; images are inlined and scaled.
- Event log: every change, view it with 'sf log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STATUSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("project", "", "project id (overrides statusflow.yml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	switch strings.ToLower(viper.GetString("log-format")) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", viper.GetString("log-format"))
	}
	return log, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: allowActorHeader,
					EnableDevLogin:         devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("STATUSFLOW_JWT_SECRET is required for bearer auth")
				}
				e.Metrics = metrics.New()
				rd, err := report.NewRenderer(e.Config.Report, viper.GetString("workspace"), log, e.Metrics)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   log,
					Renderer: rd,
				})
				if err != nil {
					return err
				}
				if server.StartWebhookDispatcher(ctx, e, log) {
					log.WithField("hooks", len(e.Config.Webhooks)).Info("webhook dispatcher started")
				}
				go func() {
					ticker := time.NewTicker(15 * time.Second)
					defer ticker.Stop()
					for {
						e.Metrics.UpdateDatabaseStats(e.DB)
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
						}
					}
				}()
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.WithFields(logrus.Fields{
					"addr":      addr,
					"base_path": basePath,
					"project":   e.Config.Project.ID,
				}).Info("serving statusflow API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, repo.EventFilters{
					ProjectID:  e.Config.Project.ID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func openEngine(ctx context.Context) (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, nil)
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), e)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e.Config = cfg
	return e, func() { conn.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseInt64s(items []string) ([]int64, error) {
	out := make([]int64, 0, len(items))
	for _, s := range items {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

func joinInt64s(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
