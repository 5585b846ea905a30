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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trackway/internal/agent"
	"trackway/internal/app"
	"trackway/internal/config"
	"trackway/internal/db"
	"trackway/internal/engine"
	"trackway/internal/engine/auth"
	"trackway/internal/evaluator"
	"trackway/internal/logging"
	"trackway/internal/metrics"
	"trackway/internal/migrate"
	"trackway/internal/repo"
	"trackway/internal/server"
	"trackway/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "tc",
	Short: "Trackway task compiler and agent",
	Long: `Trackway compiles TypeScript task modules into prompt contexts and runs them as agents.
- Task: a class decorated with @task("...") extending Base<Output>; its @hint("...") methods are the capabilities.
- Context: the type aliases a task depends on plus stubs of its methods, rendered as source text.
- Module: a source file of tasks installed in the workspace registry (.trackway/trackway.db).
- Session: a connection to a peer; after the handshake the peer sends code fragments and receives results.
- Event log: session lifecycle records, view with 'tc log tail'.`,
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
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "log format json|console (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(moduleCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(peerCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in trackway.yml next to the workspace database. Values missing from the file take their defaults.",
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
		Short: "Write a default trackway.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate trackway.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	var taskName string
	cmd := &cobra.Command{
		Use:   "compile <file|url>",
		Short: "Compile a module and print task contexts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				src, err := app.ReadSource(ctx, args[0])
				if err != nil {
					return err
				}
				m, err := e.Compile(src.Path, src.Content)
				if err != nil {
					return err
				}
				names := m.TaskNames()
				if taskName != "" {
					names = []string{taskName}
				}
				var out []engine.TaskContext
				for _, name := range names {
					t, ok := m.Task(name)
					if !ok {
						return fmt.Errorf("task %s: %w", name, repo.ErrNotFound)
					}
					out = append(out, engine.Describe(m, t))
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"tasks":       out,
						"diagnostics": m.Diagnostics,
						"errors":      errorStrings(m.Errors),
					})
				}
				for _, d := range m.Diagnostics {
					fmt.Fprintln(os.Stderr, d)
				}
				for _, err := range m.Errors {
					fmt.Fprintln(os.Stderr, "skipped:", err)
				}
				for _, tc := range out {
					fmt.Printf("// task %s: %s\n%s\n", tc.Name, tc.Description, tc.Context)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "only this task")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks of installed modules",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	return task
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				names, err := e.TaskNames(ctx)
				if err != nil {
					return err
				}
				type row struct {
					Name        string   `json:"name"`
					Module      string   `json:"module"`
					Methods     []string `json:"methods"`
					Description string   `json:"description"`
				}
				rows := make([]row, 0, len(names))
				for _, name := range names {
					m, t, err := e.FindTask(ctx, name)
					if err != nil {
						return err
					}
					rows = append(rows, row{Name: name, Module: m.Path, Methods: t.MethodNames(), Description: t.Description})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Module", "Methods", "Description"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Name, r.Module, strings.Join(r.Methods, ", "), r.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task>",
		Short: "Print the rendered context of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, t, err := e.FindTask(ctx, args[0])
				if err != nil {
					return err
				}
				tc := engine.Describe(m, t)
				if viper.GetBool("json") {
					return printJSON(tc)
				}
				fmt.Print(tc.Context)
				return nil
			})
		},
	}
}

func moduleCmd() *cobra.Command {
	mod := &cobra.Command{
		Use:   "module",
		Short: "Manage installed modules",
		Long:  "Installed modules are compiled, stored in the workspace database, and their tasks become runnable by name.",
	}
	mod.AddCommand(moduleAddCmd())
	mod.AddCommand(moduleListCmd())
	mod.AddCommand(moduleShowCmd())
	mod.AddCommand(moduleRemoveCmd())
	return mod
}

func moduleAddCmd() *cobra.Command {
	var name string
	var replace bool
	cmd := &cobra.Command{
		Use:   "add <file|url>",
		Short: "Install a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				src, err := app.ReadSource(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := e.InstallModule(ctx, engine.InstallOptions{
					Name:    name,
					Source:  src.Path,
					Content: src.Content,
					Replace: replace,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Module)
				}
				for _, d := range res.Diagnostics {
					fmt.Fprintln(os.Stderr, d)
				}
				fmt.Printf("installed %s v%d (%s)\n", res.Module.Name, res.Module.Version, strings.Join(res.Module.Tasks, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "module name (defaults to the file name)")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace an installed module of the same name")
	return cmd
}

func moduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListModules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Version", "Tasks", "Source", "Updated"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Name, m.Version, strings.Join(m.Tasks, ", "), m.Source, m.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func moduleShowCmd() *cobra.Command {
	var withSource bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetModuleSource(ctx, args[0])
				if err != nil {
					return fmt.Errorf("module %s: %w", args[0], err)
				}
				if withSource && !viper.GetBool("json") {
					fmt.Print(m.Content)
					return nil
				}
				if !withSource {
					return printJSON(m.Module)
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().BoolVar(&withSource, "source", false, "include the module source")
	return cmd
}

func moduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveModule(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	var taskName string
	var console bool
	cmd := &cobra.Command{
		Use:   "run [module|file|url]",
		Short: "Connect to a peer and run a task",
		Long: `Run dials the peer, performs the handshake, announces the task and then evaluates every
code fragment the peer sends until it says bye. Without an argument the task is looked up among
installed modules.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, name, err := app.ResolveTask(ctx, e, ref, taskName)
				if err != nil {
					return err
				}
				cfg := e.Config
				addr := firstNonEmpty(viper.GetString("addr"), cfg.Server.Address)
				if addr == "" {
					return errors.New("peer address required (--addr or server.address)")
				}
				token := firstNonEmpty(viper.GetString("token"), cfg.Server.Token)
				conn, err := transport.Dial(ctx, addr, token)
				if err != nil {
					return err
				}
				opts := agent.Options{
					Token:            token,
					HandshakeTimeout: cfg.Session.HandshakeTimeout,
					OutboundBuffer:   cfg.Session.OutboundBuffer,
					Evaluator: evaluator.New(evaluator.Options{
						Timeout:        cfg.Evaluator.Timeout,
						MaxOutputBytes: cfg.Evaluator.MaxOutputBytes,
						Logger:         e.Logger,
					}),
					Logger:  e.Logger,
					Metrics: e.Metrics,
					Events:  e.Events,
				}
				if console {
					opts.ConsoleIn = os.Stdin
					opts.ConsoleOut = os.Stdout
				}
				e.Logger.Info("running task", zap.String("task", name), zap.String("addr", addr))
				return agent.Run(ctx, conn, m, name, opts)
			})
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "task to run (optional when the module has one task)")
	cmd.Flags().BoolVar(&console, "console", false, "attach a prompt console on stdin/stdout")
	cmd.Flags().String("addr", "", "peer address (ws://, wss://, tcp://, unix://)")
	cmd.Flags().String("token", "", "handshake token")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for peers and the API",
	}
	tok.AddCommand(tokenMintCmd())
	return tok
}

func tokenMintCmd() *cobra.Command {
	var subject, secret string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				secret = firstNonEmpty(cfg.API.JWTSecret, cfg.Peer.JWTSecret)
			}
			token, err := auth.Mint(secret, subject, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to api.jwt_secret, then peer.jwt_secret)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scope (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inspection API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				authCfg := server.AuthConfig{JWTSecret: firstNonEmpty(os.Getenv("TRACKWAY_JWT_SECRET"), cfg.API.JWTSecret), Disabled: noAuth}
				if authCfg.JWTSecret == "" && !noAuth {
					return fmt.Errorf("api.jwt_secret or TRACKWAY_JWT_SECRET is required for bearer auth")
				}
				base := firstNonEmpty(basePath, cfg.API.BasePath, "/v0")
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: base,
					Auth:     authCfg,
					Logger:   e.Logger,
					Metrics:  e.Metrics,
					Gatherer: prometheus.DefaultGatherer,
				})
				if err != nil {
					return err
				}
				if len(cfg.Webhooks) > 0 {
					go server.NewWebhookDispatcher(e.Repo, cfg.Webhooks, e.Logger).Run(ctx)
				}
				listen := firstNonEmpty(addr, cfg.API.Addr)
				srv := &http.Server{Addr: listen, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Trackway API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", listen, base)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to api.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to api.base_path)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "serve without bearer auth")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Session event log",
		Long:  "Every session records its lifecycle: open, handshake, task announcement, slot results and close.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Session", "Kind", "Task", "Payload"})
				for i := len(events) - 1; i >= 0; i-- {
					ev := events[i]
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.SessionID, ev.Kind, ev.Task, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.SessionID, "session", "", "session id filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "event kind filter")
	cmd.Flags().StringVar(&f.Task, "task", "", "task filter")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(
		firstNonEmpty(viper.GetString("log-level"), cfg.Log.Level),
		firstNonEmpty(viper.GetString("log-format"), cfg.Log.Format),
	)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	m := metrics.NewCollector("trackway", prometheus.DefaultRegisterer, logger)
	e, err := engine.New(conn, cfg, logger, m)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
