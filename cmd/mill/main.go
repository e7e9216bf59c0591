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

	"venturemill/internal/config"
	"venturemill/internal/db"
	"venturemill/internal/domain"
	"venturemill/internal/events"
	"venturemill/internal/migrate"
	"venturemill/internal/orchestrator"
	"venturemill/internal/pipeline"
	"venturemill/internal/server"
	"venturemill/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "mill",
	Short: "VentureMill CLI",
	Long: `VentureMill runs scored business pipelines: scan trends, generate ideas,
build MVPs, plan launches, and capture leads. Every stage scores its output
against a weight profile and only items above the stage's minimum score move on.
State lives in the .venturemill workspace database; tune thresholds and weights
in venturemill.yml.`,
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VENTUREMILL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func submitCmd() *cobra.Command {
	var (
		kind          string
		sources       []string
		limit         int
		ideasPerTrend int
		noDeploy      bool
		channels      []string
		budgetUSD     int
		durationWeeks int
		targetMRR     int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pipeline job and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := pipeline.Params{
				Sources:       sources,
				Limit:         limit,
				IdeasPerTrend: ideasPerTrend,
				Channels:      channels,
				BudgetUSD:     budgetUSD,
				DurationWeeks: durationWeeks,
				TargetMRR:     targetMRR,
			}
			if noDeploy {
				f := false
				params.AutoDeploy = &f
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				job, err := orch.Submit(ctx, kind, params)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "job %s submitted (%s)\n", job.ID, job.PipelineKind)
				select {
				case <-ctx.Done():
					// interrupt: cancel the job, then let it settle
					_ = orch.Cancel(context.Background(), job.ID)
					<-orch.Wait(job.ID)
				case <-orch.Wait(job.ID):
				}
				final, err := orch.Store.Get(context.Background(), job.ID)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(final); err != nil {
					return err
				}
				if final.Status != domain.JobCompleted {
					return fmt.Errorf("job %s ended %s", final.ID, final.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "pipeline kind")
	cmd.Flags().StringArrayVar(&sources, "source", nil, "trend sources to scan")
	cmd.Flags().IntVar(&limit, "limit", 0, "max trends to scan")
	cmd.Flags().IntVar(&ideasPerTrend, "ideas-per-trend", 0, "ideas generated per trend")
	cmd.Flags().BoolVar(&noDeploy, "no-deploy", false, "skip MVP deployment")
	cmd.Flags().StringArrayVar(&channels, "channel", nil, "marketing channels")
	cmd.Flags().IntVar(&budgetUSD, "budget-usd", 0, "marketing budget in USD")
	cmd.Flags().IntVar(&durationWeeks, "duration-weeks", 0, "campaign duration in weeks")
	cmd.Flags().IntVar(&targetMRR, "target-mrr", 0, "lead capture MRR target")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect jobs"}
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobPruneCmd())
	return job
}

func jobListCmd() *cobra.Command {
	var kind, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				items, err := s.List(ctx, store.Filter{Kind: kind, Status: status}, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Pipeline", "Status", "Created", "Completed"})
				for _, j := range items {
					completed := ""
					if j.CompletedAt != nil {
						completed = *j.CompletedAt
					}
					tw.AppendRow(table.Row{j.ID, j.PipelineKind, j.Status, j.CreatedAt, completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "pipeline kind filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max jobs")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				job, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	return cmd
}

func jobPruneCmd() *cobra.Command {
	var olderThanHours int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old terminal jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				window := time.Duration(olderThanHours) * time.Hour
				if olderThanHours <= 0 {
					cfg, err := config.Load(viper.GetString("workspace"))
					if err != nil {
						return err
					}
					window = cfg.RetentionWindow()
				}
				n, err := s.Evict(ctx, time.Now().Add(-window))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"pruned": n})
				}
				fmt.Printf("pruned %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&olderThanHours, "older-than-hours", 0, "override the configured retention window")
	return cmd
}

func pipelineCmd() *cobra.Command {
	pl := &cobra.Command{Use: "pipeline", Short: "Inspect pipelines"}
	pl.AddCommand(pipelineListCmd())
	return pl
}

func pipelineListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			reg, err := pipeline.NewRegistry(cfg, pipeline.Builtin(time.Now), time.Now)
			if err != nil {
				return err
			}
			defs := reg.Definitions()
			if viper.GetBool("json") {
				return printJSON(defs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Kind", "Stages", "Deadline", "Description"})
			for _, def := range defs {
				var names []string
				for _, st := range def.Stages {
					names = append(names, st.Name)
				}
				deadline := ""
				if def.Deadline > 0 {
					deadline = def.Deadline.String()
				}
				tw.AppendRow(table.Row{def.Kind, strings.Join(names, " -> "), deadline, def.Description})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage venturemill.yml",
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
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
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
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, jobID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				w := events.Writer{DB: s.DB}
				items, err := w.Latest(ctx, n, evtType, jobID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			schema, err := migrate.SchemaVersion(conn)
			if err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			reg, err := pipeline.NewRegistry(cfg, pipeline.Builtin(time.Now), time.Now)
			if err != nil {
				return err
			}
			orch := orchestrator.New(store.Store{DB: conn}, events.Writer{DB: conn}, reg)

			handler, err := server.New(server.Config{
				Orchestrator: orch,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: os.Getenv("VENTUREMILL_JWT_SECRET")},
			})
			if err != nil {
				return err
			}

			// background eviction of old terminal jobs
			evictCtx, stopEvict := context.WithCancel(cmd.Context())
			defer stopEvict()
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-evictCtx.Done():
						return
					case <-ticker.C:
						if _, err := orch.Store.Evict(evictCtx, time.Now().Add(-cfg.RetentionWindow())); err != nil {
							fmt.Fprintf(os.Stderr, "evict: %v\n", err)
						}
					}
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving VentureMill API on http://%s%s (schema v%d, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, schema, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.Store{DB: conn})
}

func withOrchestrator(ctx context.Context, fn func(context.Context, *orchestrator.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	reg, err := pipeline.NewRegistry(cfg, pipeline.Builtin(time.Now), time.Now)
	if err != nil {
		return err
	}
	return fn(ctx, orchestrator.New(store.Store{DB: conn}, events.Writer{DB: conn}, reg))
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
