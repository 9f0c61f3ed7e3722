package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examlog/internal/handler"
	appI18n "github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/llm"
	"github.com/pavelanni/examlog/internal/llm/prompts"
	"github.com/pavelanni/examlog/internal/remote"
	"github.com/pavelanni/examlog/internal/store"
	"github.com/pavelanni/examlog/internal/wizard"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examlog",
		Short: "Mock test journal with durable drafts",
	}

	serve := serveCmd()
	root.AddCommand(serve, draftsCmd(), evictCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examlog --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.String("evict-schedule", "@every 1h", "Cron schedule for background eviction (empty disables)")
	f.Duration("autosave-delay", 1500*time.Millisecond, "Idle time before a changed form is autosaved (0 disables)")
	f.StringSlice("untiered-exams", wizard.DefaultUntieredExams, "Exam codes that have no tier")
	f.String("remote-url", "", "Record server base URL (empty disables submit)")
	f.String("remote-token", "", "Bearer token for the record server")
	f.Duration("remote-timeout", 15*time.Second, "Record server request timeout")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables insight suggestions)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("insight-variant", string(prompts.PromptStandard), "Insight prompt variant (concise, standard, detailed)")
	addStoreFlags(cmd)
	return cmd
}

// addStoreFlags registers the flags every command that opens the draft
// database needs.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "examlog.db", "SQLite database path")
	f.Int("max-drafts", store.DefaultMaxDrafts, "Maximum number of drafts kept (0 disables the cap)")
	f.Duration("max-draft-age", store.DefaultMaxDraftAge, "Maximum draft age since last save (0 disables the cap)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examlog")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examlog")
	v.AddConfigPath("/etc/examlog")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func evictionPolicy(v *viper.Viper) store.EvictionPolicy {
	return store.EvictionPolicy{
		MaxDrafts: v.GetInt("max-drafts"),
		MaxAge:    v.GetDuration("max-draft-age"),
	}
}

func openStore(v *viper.Viper, opts ...store.Option) (*store.Store, error) {
	opts = append([]store.Option{store.WithEvictionPolicy(evictionPolicy(v))}, opts...)
	db, err := store.New(v.GetString("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func wizardOptions(v *viper.Viper) (wizard.Options, error) {
	opts := wizard.Options{
		Validator:     wizard.NewValidator(v.GetStringSlice("untiered-exams")),
		Scheduler:     wizard.ClockScheduler{},
		AutosaveDelay: v.GetDuration("autosave-delay"),
	}

	if url := v.GetString("remote-url"); url != "" {
		opts.Committer = remote.New(remote.Config{
			BaseURL: url,
			Token:   v.GetString("remote-token"),
			Timeout: v.GetDuration("remote-timeout"),
		})
		slog.Info("remote commit enabled", "url", url)
	} else {
		slog.Warn("no remote-url configured, submit is disabled")
	}

	if url := v.GetString("llm-url"); url != "" {
		variant := strings.ToLower(strings.TrimSpace(v.GetString("insight-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid insight-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), prompts.PromptVariant(variant))
		if err != nil {
			return wizard.Options{}, fmt.Errorf("create LLM client: %w", err)
		}
		opts.Suggester = client
		slog.Info("insight suggestions enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	}
	return opts, nil
}

// startEvictionCron runs the eviction policy on schedule. An empty schedule
// disables it.
func startEvictionCron(db *store.Store, schedule string) (*cron.Cron, error) {
	c := cron.New()
	if schedule == "" {
		return c, nil
	}
	_, err := c.AddFunc(schedule, func() {
		res, err := db.Evict(context.Background())
		if err != nil {
			slog.Warn("scheduled eviction failed", "error", err)
		}
		if res.Total() > 0 {
			slog.Info("scheduled eviction", "by_count", len(res.ByCount), "by_age", len(res.ByAge))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse evict-schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	opts, err := wizardOptions(v)
	if err != nil {
		return err
	}

	evictor, err := startEvictionCron(db, v.GetString("evict-schedule"))
	if err != nil {
		return err
	}
	defer evictor.Stop()

	h := handler.New(db, opts)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
		// Request contexts end on shutdown, which closes event streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	policy := evictionPolicy(v)
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"max_drafts", policy.MaxDrafts,
		"max_draft_age", policy.MaxAge,
		"evict_schedule", v.GetString("evict-schedule"),
		"autosave_delay", opts.AutosaveDelay,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
