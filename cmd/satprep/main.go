package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/satprep/internal/attempts"
	"github.com/pavelanni/satprep/internal/auth"
	"github.com/pavelanni/satprep/internal/handler"
	appI18n "github.com/pavelanni/satprep/internal/i18n"
	"github.com/pavelanni/satprep/internal/llm"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/notify"
	"github.com/pavelanni/satprep/internal/practice"
	"github.com/pavelanni/satprep/internal/store"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "satprep",
		Short: "AI-generated SAT practice tests",
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), generateCmd(), exportCmd(), cleanupCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `satprep --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "satprep.db", "SQLite database path or PostgreSQL connection URL")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-provider", llm.ProviderOpenAI, "LLM provider (openai, gemini)")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL (or Gemini endpoint override)")
	f.String("llm-key", "", "API key for the LLM provider")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.Duration("llm-timeout", 5*time.Minute, "Deadline for one practice test generation")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(f)
	addLLMFlags(f)
	f.String("auth-secret", "", "Secret used to sign session cookies (at least 16 bytes)")
	f.String("base-url", "http://localhost:8080", "Public base URL used in emails and OAuth callbacks")
	f.StringSlice("trusted-origins", nil, "Additional origins allowed to send state-changing requests")
	f.String("github-client-id", "", "GitHub OAuth client id (empty disables GitHub sign-in)")
	f.String("github-client-secret", "", "GitHub OAuth client secret")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("brevo-api-key", "", "Brevo API key (empty logs emails instead of sending them)")
	f.String("email-sender", "noreply@satprep.local", "Sender address for outgoing email")
	f.String("email-sender-name", "SAT Prep", "Sender name for outgoing email")
	f.StringP("lang", "l", "en", "Default language (en, ru)")
	f.Duration("cleanup-interval", time.Hour, "Interval between expired session cleanups (0 disables)")
	addLogFlags(f)
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE:  runMigrate,
	}
	addStoreFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one practice test and print its id",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	addLLMFlags(f)
	f.StringP("type", "t", string(model.PracticeTestMath), "Practice test type (math, verbal, full)")
	f.StringP("user", "u", "", "Owner email or id (empty creates a shared test)")
	f.StringP("lang", "l", "en", "Output language (en, ru)")
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export practice tests as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.String("test-id", "", "Practice test to export")
	f.String("user", "", "Export every test owned by this user email or id")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	cmd.MarkFlagsOneRequired("test-id", "user")
	cmd.MarkFlagsMutuallyExclusive("test-id", "user")
	return cmd
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions and verification tokens",
		RunE:  runCleanup,
	}
	addStoreFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
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

	v.SetEnvPrefix("SATPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("satprep")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/satprep")
	v.AddConfigPath("/etc/satprep")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(store.Driver(strings.ToLower(v.GetString("db-driver"))), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func newGenerator(ctx context.Context, v *viper.Viper) (llm.Generator, error) {
	provider := strings.ToLower(v.GetString("llm-provider"))
	cfg := llm.Config{
		Provider: provider,
		BaseURL:  v.GetString("llm-url"),
		APIKey:   v.GetString("llm-key"),
		Model:    v.GetString("llm-model"),
		Timeout:  v.GetDuration("llm-timeout"),
	}
	if provider == llm.ProviderGemini {
		// The OpenAI defaults do not apply to Gemini.
		if !v.IsSet("llm-url") {
			cfg.BaseURL = ""
		}
		if !v.IsSet("llm-model") {
			cfg.Model = llm.DefaultGeminiModel
		}
	}
	gen, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return gen, nil
}

// findUser resolves a user by email first, then by id.
func findUser(ctx context.Context, db *store.Store, ref string) (*model.User, error) {
	u, err := db.GetUserByEmail(ctx, strings.ToLower(ref))
	if err != nil || u != nil {
		return u, err
	}
	u, err = db.GetUserByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	if p, ok := gen.(interface{ Ping(context.Context) error }); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		}
	}

	mailer := notify.New(v.GetString("brevo-api-key"), v.GetString("email-sender"), v.GetString("email-sender-name"))
	authSvc, err := auth.New(db, mailer, auth.Config{
		Secret:             []byte(v.GetString("auth-secret")),
		BaseURL:            v.GetString("base-url"),
		TrustedOrigins:     v.GetStringSlice("trusted-origins"),
		SecureCookies:      v.GetBool("secure-cookies"),
		GitHubClientID:     v.GetString("github-client-id"),
		GitHubClientSecret: v.GetString("github-client-secret"),
	})
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	h := handler.New(practice.New(db, gen), attempts.New(db), authSvc)

	if interval := v.GetDuration("cleanup-interval"); interval > 0 {
		go cleanupLoop(ctx, db, interval)
	}

	users, err := db.UserCount(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting server",
		"addr", addr,
		"db_driver", db.Driver(),
		"llm_provider", v.GetString("llm-provider"),
		"model", v.GetString("llm-model"),
		"lang", lang,
		"base_url", v.GetString("base-url"),
		"github", authSvc.GitHubEnabled(),
		"users", users,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func cleanupLoop(ctx context.Context, db *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := cleanup(ctx, db); err != nil {
				slog.Warn("cleanup failed", "error", err)
			}
		}
	}
}

func cleanup(ctx context.Context, db *store.Store) (sessions, verifications int64, err error) {
	sessions, err = db.CleanupExpiredSessions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("clean up sessions: %w", err)
	}
	verifications, err = db.CleanupExpiredVerifications(ctx)
	if err != nil {
		return sessions, 0, fmt.Errorf("clean up verifications: %w", err)
	}
	if sessions > 0 || verifications > 0 {
		slog.Info("cleaned up expired rows", "sessions", sessions, "verifications", verifications)
	}
	return sessions, verifications, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	slog.Info("schema up to date", "driver", db.Driver(), "version", version)
	return nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var ownerID string
	if ref := v.GetString("user"); ref != "" {
		u, err := findUser(ctx, db, ref)
		if err != nil {
			return err
		}
		ownerID = u.ID
	}

	gen, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	svc := practice.New(db, gen)
	pt, err := svc.Create(ctx, model.PracticeTestType(strings.ToLower(v.GetString("type"))), ownerID)
	if err != nil {
		return err
	}
	tree, err := svc.GetTree(ctx, pt.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", pt.ID, pt.Title, appI18n.Tp(ctx, "QuestionCount", tree.QuestionCount()))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var export any
	if id := v.GetString("test-id"); id != "" {
		exp, err := db.ExportPracticeTest(ctx, id)
		if err != nil {
			return fmt.Errorf("export practice test: %w", err)
		}
		if exp == nil {
			return fmt.Errorf("practice test %q not found", id)
		}
		export = exp
	} else {
		u, err := findUser(ctx, db, v.GetString("user"))
		if err != nil {
			return err
		}
		exports, err := db.ExportUserPracticeTests(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("export practice tests: %w", err)
		}
		if exports == nil {
			exports = []model.TestExport{}
		}
		export = exports
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, verifications, err := cleanup(cmd.Context(), db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions and %d verifications\n", sessions, verifications)
	return nil
}
