package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/ferme/internal/api"
	"github.com/erazemk/ferme/internal/db"
	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/notify"
	"github.com/erazemk/ferme/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

// envOr returns the named environment variable or def when it is unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("ferme", flag.ContinueOnError)

	var dbPath string
	fs.StringVar(&dbPath, "db", envOr("FERME_DB", "ferme.sqlite3"), "")
	fs.StringVar(&dbPath, "d", envOr("FERME_DB", "ferme.sqlite3"), "")

	var addr string
	fs.StringVar(&addr, "addr", envOr("FERME_ADDR", ":8080"), "")
	fs.StringVar(&addr, "a", envOr("FERME_ADDR", ":8080"), "")

	var adminUser string
	fs.StringVar(&adminUser, "user", envOr("FERME_ADMIN", "Admin"), "")
	fs.StringVar(&adminUser, "u", envOr("FERME_ADMIN", "Admin"), "")

	var logPath string
	fs.StringVar(&logPath, "log", envOr("FERME_LOG", ""), "")
	fs.StringVar(&logPath, "l", envOr("FERME_LOG", ""), "")

	var kafkaBrokers, kafkaTopic, corsOrigins string
	fs.StringVar(&kafkaBrokers, "kafka-brokers", envOr("FERME_KAFKA_BROKERS", ""), "")
	fs.StringVar(&kafkaTopic, "kafka-topic", envOr("FERME_KAFKA_TOPIC", "ferme.notifications"), "")
	fs.StringVar(&corsOrigins, "cors-origins", envOr("FERME_CORS_ORIGINS", ""), "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: ferme [flags]

Flags:
  -d, -db <path>              SQLite database path (default: ferme.sqlite3)
  -a, -addr <host:port>       listen address (default: :8080)
  -u, -user <name>            superadmin username on first run (default: Admin)
  -l, -log <path>             log file path (default: no file, stdout/stderr only)
  -kafka-brokers <list>       comma-separated Kafka brokers for notifications
                              (default: notifications are only logged)
  -kafka-topic <name>         Kafka topic (default: ferme.notifications)
  -cors-origins <list>        comma-separated allowed browser origins
                              (default: same origin only)
  -h, -help                   show this help and exit

Every flag falls back to FERME_DB, FERME_ADDR, FERME_ADMIN, FERME_LOG,
FERME_KAFKA_BROKERS, FERME_KAFKA_TOPIC or FERME_CORS_ORIGINS, which may be
set in a .env file in the working directory.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	closeLog, err := setupLogger(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		database, password, err := initDatabase(dbPath, adminUser)
		if err != nil {
			slog.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		database.Close()

		printInitResult(dbPath, adminUser, password)
		fmt.Println()
	}

	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	slog.Info("database ready", "path", dbPath)

	ctx := context.Background()
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		slog.Error("failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	if n, err := store.PurgeExpiredTokens(ctx, database, time.Now()); err != nil {
		slog.Warn("failed to purge revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("purged expired revoked tokens", "count", n)
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	var kafka *notify.KafkaDispatcher
	if brokers := splitList(kafkaBrokers); len(brokers) > 0 {
		kafka = notify.NewKafkaDispatcher(brokers, kafkaTopic)
		dispatcher = kafka
		slog.Info("notifications go to kafka", "brokers", brokers, "topic", kafkaTopic)
	}

	origins := splitList(corsOrigins)
	hub := live.NewHub(originChecker(origins))

	router := api.NewRouter(api.Config{
		DB:         database,
		JWTSecret:  jwtSecret,
		Hub:        hub,
		Dispatcher: dispatcher,
	})

	handler := api.LoggingMiddleware(api.MetricsMiddleware(router))
	if len(origins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler(handler)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		// Websockets are hijacked and not covered by Shutdown.
		hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	if kafka != nil {
		if err := kafka.Close(); err != nil {
			slog.Error("failed to close kafka writer", "error", err)
		}
	}
	slog.Info("server stopped, closing database")
}

// originChecker accepts websocket upgrades from the configured origins, or
// from the server's own host when none are configured.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(origins, "*") || slices.Contains(origins, origin) {
			return true
		}
		return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host
	}
}

// initDatabase creates a new database with the central farm and a superadmin.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	fail := func(err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", err
	}

	if err := db.Migrate(database); err != nil {
		return fail(fmt.Errorf("migrating schema: %w", err))
	}

	password, err := generatePassword(16)
	if err != nil {
		return fail(fmt.Errorf("generating password: %w", err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fail(fmt.Errorf("hashing password: %w", err))
	}

	ctx := context.Background()
	if _, err := store.CreateFarm(ctx, database, model.CentralFarmID, "Centrale"); err != nil {
		return fail(fmt.Errorf("creating central farm: %w", err))
	}
	_, err = store.CreateUser(ctx, database, model.User{
		Username:     adminUsername,
		PasswordHash: string(hash),
		Role:         model.RoleSuperAdmin,
	})
	if err != nil {
		return fail(fmt.Errorf("creating superadmin: %w", err))
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized, central farm created.")
	fmt.Println()
	fmt.Println("Superadmin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("It can be changed after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
