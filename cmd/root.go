package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/checksumo/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile   string
	debug     bool
	logFormat string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// Attributes are not rendered in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// fanoutHandler writes every record to each of its handlers
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}

func newFormatHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "logfmt":
		return slog.NewTextHandler(w, opts)
	default:
		return newTextOnlyHandler(w, opts)
	}
}

// dailyLogPath returns the log file for the day of now
func dailyLogPath(logDir string, now time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("checksumo.%s.log", now.Format("2006-01-02")))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initLogger initializes the slog logger. Logs go to stderr when console is
// set (stdout carries SQL) and to a daily file in logDir when it is not empty.
func initLogger(isDebug bool, format string, logDir string, console bool) (io.Closer, error) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handlers []slog.Handler
	if console {
		handlers = append(handlers, newFormatHandler(os.Stderr, format, opts))
	}

	var closer io.Closer = nopCloser{}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(dailyLogPath(logDir, time.Now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, newFormatHandler(file, format, opts))
		closer = file
	}

	logger = slog.New(&fanoutHandler{handlers: handlers})
	return closer, nil
}

var rootCmd = &cobra.Command{
	Use:     "checksumo",
	Version: Version,
	Short:   "🔍 Verify that a database replica matches its master",
	Long: titleStyle.Render("checksumo") + `

A CLI tool to check data consistency between a master database and a replica.
Compares tables chunk by chunk, descends to rows and columns only where the
checksums differ, and prints the SQL that would bring the replica back in line.
Supports MySQL, PostgreSQL and SQLite. Nothing is ever written to either side.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [tables...]",
	Short: "Compare master and replica tables",
	Long: `Compare master and replica tables. Without table arguments every table of the
master with a single-column primary key is checked.

Watch modes:
  chunk_summary  report the key ranges whose chunk checksums differ
  row_diff       print UPDATE/INSERT/DELETE statements for every differing row
  wait           re-check differing tables until they converge or the timeout expires`,
	Run: func(_ *cobra.Command, args []string) {
		os.Exit(runCheck(args))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running check",
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runStatus(os.Stdout))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./checksumo.yml or $HOME/.checksumo.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().String("log-dir", "./logs", "directory for daily log files (empty disables file logging)")

	flags := checkCmd.Flags()
	flags.String("driver", "mysql", "database driver: mysql, postgres, sqlite")
	flags.String("database", "", "database name (qualifies generated statements on mysql)")
	flags.Int("statement-timeout", 300, "statement timeout in seconds (0 = no timeout)")

	flags.String("master-host", "127.0.0.1", "master host")
	flags.Int("master-port", 3060, "master port")
	flags.String("master-user", "", "master user (falls back to DB_USER)")
	flags.String("master-password", "", "master password (falls back to DB_PASS)")
	flags.String("master-sslmode", "", "master SSL mode (postgres)")
	flags.String("master-path", "", "master database file (sqlite)")

	flags.String("replica-host", "127.0.0.1", "replica host")
	flags.Int("replica-port", 3070, "replica port")
	flags.String("replica-user", "", "replica user (falls back to DB_USER)")
	flags.String("replica-password", "", "replica password (falls back to DB_PASS)")
	flags.String("replica-sslmode", "", "replica SSL mode (postgres)")
	flags.String("replica-path", "", "replica database file (sqlite)")

	flags.String("watch-mode", ModeChunkSummary, "watch mode: chunk_summary, row_diff, wait")
	flags.Int("chunk-size", 1024, "number of rows per checksum chunk")
	flags.Duration("timeout", 10*time.Minute, "deadline for the whole check (bare numbers in config files are minutes)")
	flags.Duration("wait-interval", 5*time.Second, "pause between rescans in wait mode (bare numbers in config files are seconds)")
	flags.Int("retry-count", 5, "retries for failed queries")
	flags.Duration("retry-wait", 2*time.Second, "initial wait between retries (doubles, jittered)")
	flags.Bool("tui", false, "show a live dashboard on stderr")

	flags.String("report-dir", "", "write a findings report to this directory")
	flags.String("report-format", "jsonl", "report format: jsonl, csv, parquet")
	flags.String("compression", "zstd", "report compression: zstd, lz4, gzip, none")
	flags.Int("compression-level", 3, "compression level (zstd: 1-22, lz4/gzip: 1-9)")
	flags.String("path-template", defaultPathTemplate, "report path template with placeholders: {mode}, {run}, {YYYY}, {MM}, {DD}, {HH}")

	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.String("s3-bucket", "", "S3 bucket for findings reports")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region", "auto", "S3 region")

	// Note: validation happens in Config.Validate() once every config source is loaded

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log_dir", rootCmd.PersistentFlags().Lookup("log-dir"))

	for key, flag := range map[string]string{
		"driver":                   "driver",
		"database":                 "database",
		"statement_timeout":        "statement-timeout",
		"master.host":              "master-host",
		"master.port":              "master-port",
		"master.user":              "master-user",
		"master.password":          "master-password",
		"master.sslmode":           "master-sslmode",
		"master.path":              "master-path",
		"replica.host":             "replica-host",
		"replica.port":             "replica-port",
		"replica.user":             "replica-user",
		"replica.password":         "replica-password",
		"replica.sslmode":          "replica-sslmode",
		"replica.path":             "replica-path",
		"watch_mode":               "watch-mode",
		"chunk_size":               "chunk-size",
		"timeout":                  "timeout",
		"wait_interval":            "wait-interval",
		"retry.count":              "retry-count",
		"retry.wait":               "retry-wait",
		"tui":                      "tui",
		"report.dir":               "report-dir",
		"report.format":            "report-format",
		"report.compression":       "compression",
		"report.compression_level": "compression-level",
		"report.path_template":     "path-template",
		"s3.endpoint":              "s3-endpoint",
		"s3.bucket":                "s3-bucket",
		"s3.access_key":            "s3-access-key",
		"s3.secret_key":            "s3-secret-key",
		"s3.region":                "s3-region",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	// Shared credentials apply to both sides unless a side sets its own
	_ = viper.BindEnv("master.user", "CHECKSUMO_MASTER_USER", "DB_USER")
	_ = viper.BindEnv("master.password", "CHECKSUMO_MASTER_PASSWORD", "DB_PASS")
	_ = viper.BindEnv("replica.user", "CHECKSUMO_REPLICA_USER", "DB_USER")
	_ = viper.BindEnv("replica.password", "CHECKSUMO_REPLICA_PASSWORD", "DB_PASS")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(".")
		viper.SetConfigName("checksumo")
		if _, err := os.Stat("checksumo.yml"); err != nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".checksumo")
		}
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CHECKSUMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return
	}

	mergeDefaults(viper.GetViper())

	if debug {
		fmt.Fprintln(os.Stderr, infoStyle.Render(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed())))
	}
}

// mergeDefaults applies the top-level defaults map of the config file as
// fallback values for every other key.
func mergeDefaults(v *viper.Viper) {
	defaults := v.Sub("defaults")
	if defaults == nil {
		return
	}
	for _, key := range defaults.AllKeys() {
		v.SetDefault(key, defaults.Get(key))
	}
}

// durationIn reads key as a duration. Bare numbers, as written in older
// checksumo.yml files, are counted in unit.
func durationIn(v *viper.Viper, key string, unit time.Duration) time.Duration {
	switch n := v.Get(key).(type) {
	case int:
		return time.Duration(n) * unit
	case int64:
		return time.Duration(n) * unit
	case float64:
		return time.Duration(n * float64(unit))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return time.Duration(f * float64(unit))
		}
	}
	return v.GetDuration(key)
}

// normalizeDriver maps driver aliases onto the names Validate accepts
func normalizeDriver(driver string) string {
	switch driver = strings.ToLower(driver); driver {
	case "postgresql":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return driver
	}
}

// loadConfig builds the run configuration from flags, environment and config file
func loadConfig(v *viper.Viper, tables []string) *Config {
	return &Config{
		Debug:     v.GetBool("debug"),
		LogFormat: v.GetString("log_format"),
		LogDir:    v.GetString("log_dir"),
		TUI:       v.GetBool("tui"),

		Driver:       normalizeDriver(v.GetString("driver")),
		DatabaseName: v.GetString("database"),
		Master: DatabaseConfig{
			Host:     v.GetString("master.host"),
			Port:     v.GetInt("master.port"),
			User:     v.GetString("master.user"),
			Password: v.GetString("master.password"),
			SSLMode:  v.GetString("master.sslmode"),
			Path:     v.GetString("master.path"),
		},
		Replica: DatabaseConfig{
			Host:     v.GetString("replica.host"),
			Port:     v.GetInt("replica.port"),
			User:     v.GetString("replica.user"),
			Password: v.GetString("replica.password"),
			SSLMode:  v.GetString("replica.sslmode"),
			Path:     v.GetString("replica.path"),
		},
		StatementTimeout: v.GetInt("statement_timeout"),

		Tables:       tables,
		WatchMode:    strings.ToLower(v.GetString("watch_mode")),
		ChunkSize:    v.GetInt("chunk_size"),
		Timeout:      durationIn(v, "timeout", time.Minute),
		WaitInterval: durationIn(v, "wait_interval", time.Second),
		Retry: RetryConfig{
			Count: v.GetInt("retry.count"),
			Wait:  v.GetDuration("retry.wait"),
		},

		Report: ReportConfig{
			Format:           v.GetString("report.format"),
			Compression:      v.GetString("report.compression"),
			CompressionLevel: v.GetInt("report.compression_level"),
			Dir:              v.GetString("report.dir"),
			PathTemplate:     v.GetString("report.path_template"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			Bucket:    v.GetString("s3.bucket"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			Region:    v.GetString("s3.region"),
		},
	}
}
