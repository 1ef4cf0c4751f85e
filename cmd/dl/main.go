package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"demandline/internal/aggregate"
	"demandline/internal/app"
	"demandline/internal/config"
	"demandline/internal/domain"
	"demandline/internal/events"
	"demandline/internal/metrics"
	"demandline/internal/replay"
	"demandline/internal/report"
	"demandline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Demandline CLI",
	Long: `Demandline tracks work requests ("demands") handed from a team leader to
collaborators. Each demand moves pending -> completed -> confirmed; every
change lands in an append-only activity ledger, and dashboards and CSV/PDF
reports summarize completion.

Sessions are in-memory and isolated: 'dl serve' opens one per API client,
'dl replay' runs a scripted one and prints the outcome.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("DEMANDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "directory holding demandline.yml")
	rootCmd.PersistentFlags().String("config", "", "config file (overrides the workspace demandline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(configCmd())
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig prefers an explicit path, then the workspace file, then the
// built-in default.
func loadConfig(explicit string) (*config.Config, error) {
	if explicit == "" {
		explicit = viper.GetString("config")
	}
	if explicit != "" {
		return config.FromFile(explicit)
	}
	return config.Load(viper.GetString("workspace"))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			sessions := app.NewManager(app.Options{Config: cfg, Logger: logger, Metrics: metrics.New(reg)})
			defer sessions.CloseAll()
			handler, err := server.New(server.Config{Sessions: sessions, BasePath: basePath, Logger: logger, Gatherer: reg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving demandline api", "addr", addr, "base_path", basePath, "docs", basePath+"/docs", "identities", len(cfg.Identities))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func replayCmd() *cobra.Command {
	var file, format, detail, out string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a scripted session and print its dashboard and activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			script, err := replay.Load(file)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(script.ConfigPath())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := app.NewSession(ctx, app.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer s.Close()

			res, runErr := replay.Run(ctx, s, script)
			demands, err := s.Engine.ListAll(ctx)
			if err != nil {
				return err
			}
			activity, err := s.Engine.Activity(ctx, events.Filter{})
			if err != nil {
				return err
			}
			dash := aggregate.Build(demands, s.Engine.Registry, nil, nil)
			if viper.GetBool("json") {
				if err := printJSON(map[string]any{"steps": res.Steps, "dashboard": dash, "activity": activity}); err != nil {
					return err
				}
			} else {
				printSteps(res.Steps)
				printDashboard(dash)
				printActivity(activity)
			}
			if runErr != nil {
				return runErr
			}
			if format == "" {
				return nil
			}
			rep, err := s.Reports.Generate(report.Request{
				Format:  report.Format(format),
				Detail:  report.Detail(detail),
				Demands: demands,
			})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			target := filepath.Join(out, rep.Filename)
			if err := os.WriteFile(target, rep.Payload, 0o644); err != nil {
				return err
			}
			logger.Info("report written", "path", target, "bytes", len(rep.Payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "replay script (YAML)")
	cmd.Flags().StringVar(&format, "report-format", "", "also write a report: csv or pdf")
	cmd.Flags().StringVar(&detail, "report-detail", string(report.DetailComplete), "report detail: complete or summary")
	cmd.Flags().StringVar(&out, "out", ".", "directory for the report file")
	return cmd
}

func printSteps(steps []replay.StepResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Steps")
	tw.AppendHeader(table.Row{"#", "Action", "Demand", "Outcome"})
	for _, s := range steps {
		tw.AppendRow(table.Row{s.Index, s.Action, s.DemandID, s.Outcome})
	}
	tw.Render()
}

func printDashboard(d aggregate.Dashboard) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("Dashboard: %d demands, %d completed (%s)", d.Overall.Total, d.Overall.Completed, aggregate.FormatRate(d.Overall.CompletionRate)))
	tw.AppendHeader(table.Row{"Group", "Name", "Total", "Completed", "Pending", "Rate"})
	for _, r := range d.ByAssignee {
		tw.AppendRow(table.Row{"assignee", r.Label, r.Total, r.Completed, r.Pending, aggregate.FormatRate(r.CompletionRate)})
	}
	tw.AppendSeparator()
	for _, r := range d.ByType {
		tw.AppendRow(table.Row{"type", r.Label, r.Total, r.Completed, r.Pending, aggregate.FormatRate(r.CompletionRate)})
	}
	tw.Render()
}

func printActivity(items []domain.ActivityRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Activity")
	tw.AppendHeader(table.Row{"When", "Demand", "Title", "Action", "Actor", "Status"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.Timestamp.Format("02/01/2006 15:04:05"), r.DemandID, r.Title, r.Action.Label(), r.ActorName, r.StatusAtTime.Label()})
	}
	tw.Render()
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create demandline.yml",
		Long:  "Config lists the identities (one or more leaders plus collaborators), who may complete a demand, and the report title.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Role"})
			for _, it := range cfg.Identities {
				tw.AppendRow(table.Row{it.ID, it.Name, it.Role})
			}
			tw.AppendFooter(table.Row{"complete policy", cfg.Policies.Complete, ""})
			tw.Render()
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			_, err := loadConfig(path)
			if viper.GetBool("json") {
				return printJSON(validateResult(err))
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// validateResult carries "error" only when validation failed.
func validateResult(err error) map[string]any {
	res := map[string]any{"ok": err == nil}
	if err != nil {
		res["error"] = err.Error()
	}
	return res
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default demandline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
