package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/airframesio/checksumo/cmd/connectors"
	"github.com/airframesio/checksumo/cmd/diff"
)

// Static errors for configuration validation
var (
	ErrDriverInvalid           = errors.New("driver must be one of: mysql, postgres, sqlite")
	ErrDatabaseUserRequired    = errors.New("database user is required")
	ErrDatabasePortInvalid     = errors.New("database port must be between 1 and 65535")
	ErrDatabasePathRequired    = errors.New("database path is required for sqlite")
	ErrStatementTimeoutInvalid = errors.New("database statement timeout must be >= 0")
	ErrTableNameInvalid        = errors.New("table name is invalid: must start with a letter or underscore, contain only letters, numbers, and underscores, and may be prefixed by a schema")
	ErrWatchModeInvalid        = errors.New("watch mode must be one of: chunk_summary, row_diff, wait")
	ErrChunkSizeMinimum        = errors.New("chunk size must be at least 1")
	ErrChunkSizeMaximum        = errors.New("chunk size must not exceed 1000000")
	ErrTimeoutInvalid          = errors.New("timeout must be at least 1s")
	ErrWaitIntervalInvalid     = errors.New("wait interval must be positive")
	ErrRetryCountInvalid       = errors.New("retry count must be between 0 and 20")
	ErrRetryWaitInvalid        = errors.New("retry wait must be >= 0")
	ErrOutputFormatInvalid     = errors.New("report format must be one of: jsonl, csv, parquet")
	ErrCompressionInvalid      = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip)")
	ErrPathTemplateRequired    = errors.New("report path template is required")
	ErrPathTemplateInvalid     = errors.New("report path template must contain {run} placeholder")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
)

const regionAuto = "auto"

// Watch modes
const (
	ModeChunkSummary = "chunk_summary"
	ModeRowDiff      = "row_diff"
	ModeWait         = "wait"
)

const (
	maxChunkSize  = 1000000
	maxRetryCount = 20
)

type Config struct {
	Debug     bool
	LogFormat string
	LogDir    string
	TUI       bool

	Driver           string
	DatabaseName     string // qualifies generated statements on mysql
	Master           DatabaseConfig
	Replica          DatabaseConfig
	StatementTimeout int // seconds, 0 = no timeout

	Tables       []string
	WatchMode    string
	ChunkSize    int
	Timeout      time.Duration
	WaitInterval time.Duration
	Retry        RetryConfig

	Report ReportConfig
	S3     S3Config
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
	Path     string // sqlite file
}

type RetryConfig struct {
	Count int
	Wait  time.Duration
}

type ReportConfig struct {
	Format           string
	Compression      string
	CompressionLevel int
	Dir              string
	PathTemplate     string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// ReportEnabled reports whether findings are written anywhere besides stdout.
func (c *Config) ReportEnabled() bool {
	return c.Report.Dir != "" || c.S3.Bucket != ""
}

// connectorConfig returns the connection settings for one side.
func (c *Config) connectorConfig(side DatabaseConfig) connectors.Config {
	return connectors.Config{
		Driver:           c.Driver,
		Host:             side.Host,
		Port:             side.Port,
		User:             side.User,
		Password:         side.Password,
		Database:         c.DatabaseName,
		SSLMode:          side.SSLMode,
		Path:             side.Path,
		StatementTimeout: c.StatementTimeout,
	}
}

func isSQLite(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}

// isValidDriver validates the database driver
func isValidDriver(driver string) bool {
	for _, d := range connectors.SupportedDrivers() {
		if strings.EqualFold(d, driver) {
			return true
		}
	}
	return false
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, region)
	return matched
}

// isValidPathTemplate validates that a path template contains required placeholders
func isValidPathTemplate(template string) bool {
	return strings.Contains(template, "{run}")
}

// isValidWatchMode validates the watch mode
func isValidWatchMode(mode string) bool {
	validModes := map[string]bool{
		ModeChunkSummary: true,
		ModeRowDiff:      true,
		ModeWait:         true,
	}
	return validModes[mode]
}

// isValidOutputFormat validates the report format
func isValidOutputFormat(format string) bool {
	validFormats := map[string]bool{
		"jsonl":   true,
		"csv":     true,
		"parquet": true,
	}
	return validFormats[format]
}

// isValidCompression validates the compression type
func isValidCompression(compression string) bool {
	validCompressions := map[string]bool{
		"zstd": true,
		"lz4":  true,
		"gzip": true,
		"none": true,
	}
	return validCompressions[compression]
}

// isValidCompressionLevel validates compression level based on compression type
func isValidCompressionLevel(compression string, level int) bool {
	switch compression {
	case "zstd":
		return level >= 1 && level <= 22
	case "lz4", "gzip":
		return level >= 1 && level <= 9
	case "none":
		return true
	default:
		return false
	}
}

func validateSide(name string, side DatabaseConfig, driver string) error {
	if isSQLite(driver) {
		if side.Path == "" {
			return fmt.Errorf("%s: %w", name, ErrDatabasePathRequired)
		}
		return nil
	}

	if side.User == "" {
		return fmt.Errorf("%s: %w", name, ErrDatabaseUserRequired)
	}
	if side.Port < 1 || side.Port > 65535 {
		return fmt.Errorf("%s: %w, got %d", name, ErrDatabasePortInvalid, side.Port)
	}
	return nil
}

func (c *Config) Validate() error {
	if !isValidDriver(c.Driver) {
		return fmt.Errorf("%w: '%s'", ErrDriverInvalid, c.Driver)
	}

	if err := validateSide("master", c.Master, c.Driver); err != nil {
		return err
	}
	if err := validateSide("replica", c.Replica, c.Driver); err != nil {
		return err
	}

	if c.StatementTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrStatementTimeoutInvalid, c.StatementTimeout)
	}

	// Table names end up in SQL text, so they must be plain identifiers
	for _, table := range c.Tables {
		if !diff.ValidTableName(table) {
			return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, table)
		}
	}

	if !isValidWatchMode(c.WatchMode) {
		return fmt.Errorf("%w: '%s'", ErrWatchModeInvalid, c.WatchMode)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w, got %d", ErrChunkSizeMinimum, c.ChunkSize)
	}
	if c.ChunkSize > maxChunkSize {
		return fmt.Errorf("%w, got %d", ErrChunkSizeMaximum, c.ChunkSize)
	}

	if c.Timeout < time.Second {
		return fmt.Errorf("%w, got %s", ErrTimeoutInvalid, c.Timeout)
	}
	if c.WaitInterval <= 0 {
		return fmt.Errorf("%w, got %s", ErrWaitIntervalInvalid, c.WaitInterval)
	}

	if c.Retry.Count < 0 || c.Retry.Count > maxRetryCount {
		return fmt.Errorf("%w, got %d", ErrRetryCountInvalid, c.Retry.Count)
	}
	if c.Retry.Wait < 0 {
		return fmt.Errorf("%w, got %s", ErrRetryWaitInvalid, c.Retry.Wait)
	}

	if !c.ReportEnabled() {
		return nil
	}

	if !isValidOutputFormat(c.Report.Format) {
		return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.Report.Format)
	}
	if !isValidCompression(c.Report.Compression) {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Report.Compression)
	}
	if !isValidCompressionLevel(c.Report.Compression, c.Report.CompressionLevel) {
		return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Report.Compression, c.Report.CompressionLevel)
	}
	if c.Report.PathTemplate == "" {
		return ErrPathTemplateRequired
	}
	if !isValidPathTemplate(c.Report.PathTemplate) {
		return fmt.Errorf("%w: '%s'", ErrPathTemplateInvalid, c.Report.PathTemplate)
	}

	if c.S3.Bucket != "" {
		if c.S3.AccessKey == "" {
			return ErrS3AccessKeyRequired
		}
		if c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if c.S3.Region != "" && c.S3.Region != regionAuto && !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	return nil
}
