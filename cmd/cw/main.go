package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"casework/internal/app"
	"casework/internal/config"
	"casework/internal/domain"
	"casework/internal/engine"
	"casework/internal/logging"
	"casework/internal/repo"
	"casework/internal/server"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Casework CLI",
	Long: `Casework manages the case data behind the regulator's case-management prototype.
- Workspace: casework.yml plus the data directory of JSON files and the .casework database.
- Store: cases, organisations, task configuration and messages live in the JSON files or in SQLite (store.driver).
- Backfill: fills in each case's registration number from the organisation directory.
- Seed: derives demo task progress and answers from each case's status.
- Demo: hands a quota of cases per case type to the demo organisation.
- Redirect: works out where a message reply link should land.
- Event log: every run is recorded, view with 'cw log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log-level")
		format := ""
		if cfg, err := config.LoadOrDefault(viper.GetString("workspace")); err == nil {
			if level == "" {
				level = cfg.Logging.Level
			}
			format = cfg.Logging.Format
		}
		l, err := logging.New(level, format)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEWORK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", engine.DefaultActor, "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("store", "", "store driver override (json|sqlite)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(redirectCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authCmd())
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Fill in missing registration numbers from the organisation directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Backfill(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Updated %d cases, %d unresolved\n", rep.Updated, rep.Unresolved)
				if len(rep.Names) > 0 {
					fmt.Println("Unresolved organisations:")
					for _, name := range rep.Names {
						fmt.Printf("  - %s\n", name)
					}
				}
				return nil
			})
		},
	}
}

func demoCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "demo",
		Short: "Demo data utilities",
	}
	d.AddCommand(&cobra.Command{
		Use:   "reassign",
		Short: "Reassign cases to the demo organisation up to the configured quotas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.ReassignDemoCases(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"rn_number": e.Config.Demo.Organisation.RNNumber,
						"case_ids":  nonNil(ids),
					})
				}
				org := e.Config.Demo.Organisation
				fmt.Printf("Reassigned %d cases to %s (%s)\n", len(ids), org.Name, org.RNNumber)
				for _, id := range ids {
					fmt.Printf("  - %s\n", id)
				}
				return nil
			})
		},
	})
	return d
}

func seedCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Regenerate seeded task data from case statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.SeedOptions{ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("seed") {
					opts.Seed = &seed
				}
				res, err := e.GenerateTaskData(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seeded %d cases: %d task statuses, %d answered forms (seed %d)\n", res.Cases, res.Tasks, res.Answered, res.Seed)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (overrides seeding.seed)")
	return cmd
}

func redirectCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "redirect <rn> <message-id>",
		Short: "Resolve where a message reply link lands",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := e.ResolveReply(ctx, args[0], args[1], sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(target)
				}
				fmt.Println(target.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session whose sent messages are searched")
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Inspect cases"}
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	return c
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases in store order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cases, err := e.Store.ListCases(ctx)
				if err != nil {
					return err
				}
				var items []domain.Case
				for _, c := range cases {
					if f.RNNumber != "" && c.RNNumber != f.RNNumber {
						continue
					}
					if f.CaseType != "" && c.CaseType != f.CaseType {
						continue
					}
					if f.Status != "" && c.Status != f.Status {
						continue
					}
					items = append(items, c)
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(items))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Case", "Type", "Status", "Submitted By", "RN"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.CaseID, c.CaseType, c.Status, c.SubmittedBy, c.RNNumber})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.RNNumber, "rn", "", "registration number filter")
	cmd.Flags().StringVar(&f.CaseType, "type", "", "case type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with all its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Store.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func orgCmd() *cobra.Command {
	o := &cobra.Command{Use: "org", Short: "Inspect organisations"}
	o.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List organisations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgs, err := e.Store.ListOrganisations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(orgs))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"RN", "Name", "Acronym"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.RNNumber, o.Name, o.Acronym})
				}
				tw.Render()
				return nil
			})
		},
	})
	return o
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <case-id>",
		Short: "Show a case's workflow with its seeded progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.CaseTasks(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s (%s, %s)\n", view.Case.CaseID, view.Case.CaseType, view.Case.Status)
				if !view.Seeded {
					fmt.Println("no seeded task data; run cw seed")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Task", "Status", "Answers"})
				for _, st := range view.Stages {
					for _, task := range st.Tasks {
						status := string(task.Status)
						if status == "" {
							status = "not started"
						}
						answers := 0
						if task.Data != nil {
							answers = len(task.Data.FormData)
						}
						tw.AppendRow(table.Row{st.ID, task.ID, status, answers})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func storeCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "store",
		Short: "Copy data between the JSON files and SQLite",
	}
	s.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Load the JSON files into SQLite, replacing its contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				e := ws.Engine(logger)
				e.Store = repo.Repo{DB: ws.DB}
				rep, err := e.ImportFrom(ctx, ws.Files(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTransfer("Imported", rep)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write the SQLite contents to the JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				e := ws.Engine(logger)
				e.Store = repo.Repo{DB: ws.DB}
				rep, err := e.ExportTo(ctx, ws.Files(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTransfer("Exported", rep)
			})
		},
	})
	return s
}

func printTransfer(verb string, rep engine.TransferReport) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	fmt.Printf("%s %d organisations, %d cases, %d messages, %d case types, %d seeded cases\n",
		verb, rep.Organisations, rep.Cases, rep.Messages, rep.CaseTypes, rep.SeededCases)
	return nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage casework.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default casework.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if d := viper.GetString("store"); d != "" {
				cfg.Store.Driver = d
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate casework.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				if err != nil {
					return printJSON(map[string]any{"ok": false, "error": err.Error()})
				}
				return printJSON(map[string]any{"ok": true})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every backfill, seed, reassignment and store transfer is recorded here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(events))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += ":" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if addr == "" {
					addr = ws.Config.Server.Addr
				}
				if basePath == "" {
					basePath = ws.Config.Server.BasePath
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					return fmt.Errorf("CASEWORK_JWT_SECRET is required for bearer auth")
				}
				e := ws.Engine(logger)
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, Logger: logger},
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				server.StartWebhooks(ctx, e, logger)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving casework API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("store", ws.Config.Store.Driver))
				fmt.Printf("Serving Casework API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "API credentials"}
	var sessionID string
	var ttl time.Duration
	tok := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			token, sid, err := server.SignToken(secret, viper.GetString("actor-id"), sessionID, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token, "session_id": sid})
			}
			fmt.Println(token)
			return nil
		},
	}
	tok.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	tok.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	a.AddCommand(tok)
	return a
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("store"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine(logger))
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
