package cmd

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Driver:       "mysql",
		DatabaseName: "shop",
		Master: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     3060,
			User:     "checker",
			Password: "secret",
		},
		Replica: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     3070,
			User:     "checker",
			Password: "secret",
		},
		StatementTimeout: 300,
		Tables:           []string{"addresses", "orders"},
		WatchMode:        ModeChunkSummary,
		ChunkSize:        1024,
		Timeout:          10 * time.Minute,
		WaitInterval:     5 * time.Second,
		Retry:            RetryConfig{Count: 5, Wait: 2 * time.Second},
		Report: ReportConfig{
			Format:           "jsonl",
			Compression:      "zstd",
			CompressionLevel: 3,
			PathTemplate:     defaultPathTemplate,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Fatalf("valid config should not return error: %v", err)
		}
	})

	t.Run("ValidSQLiteConfig", func(t *testing.T) {
		config := validConfig()
		config.Driver = "sqlite"
		config.Master = DatabaseConfig{Path: "master.db"}
		config.Replica = DatabaseConfig{Path: "replica.db"}

		if err := config.Validate(); err != nil {
			t.Fatalf("sqlite config without users should be valid: %v", err)
		}
	})

	t.Run("MissingReplicaUser", func(t *testing.T) {
		config := validConfig()
		config.Replica.User = ""

		err := config.Validate()
		if !errors.Is(err, ErrDatabaseUserRequired) {
			t.Fatalf("expected ErrDatabaseUserRequired, got %v", err)
		}
		if err.Error() != "replica: database user is required" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("MissingSQLitePath", func(t *testing.T) {
		config := validConfig()
		config.Driver = "sqlite"
		config.Master = DatabaseConfig{Path: "master.db"}
		config.Replica = DatabaseConfig{}

		if err := config.Validate(); !errors.Is(err, ErrDatabasePathRequired) {
			t.Fatalf("expected ErrDatabasePathRequired, got %v", err)
		}
	})

	t.Run("InvalidDatabasePort", func(t *testing.T) {
		for _, port := range []int{0, -1, 65536} {
			t.Run(fmt.Sprintf("port %d", port), func(t *testing.T) {
				config := validConfig()
				config.Master.Port = port

				err := config.Validate()
				if !errors.Is(err, ErrDatabasePortInvalid) {
					t.Fatalf("expected ErrDatabasePortInvalid, got %v", err)
				}
			})
		}
	})

	t.Run("ReportDisabledSkipsReportChecks", func(t *testing.T) {
		config := validConfig()
		config.Report = ReportConfig{Format: "xml"}

		if err := config.Validate(); err != nil {
			t.Fatalf("report settings should be ignored without a destination: %v", err)
		}
	})

	t.Run("S3CredentialsRequired", func(t *testing.T) {
		config := validConfig()
		config.S3 = S3Config{Bucket: "reports", Region: "us-east-1"}

		if err := config.Validate(); !errors.Is(err, ErrS3AccessKeyRequired) {
			t.Fatalf("expected ErrS3AccessKeyRequired, got %v", err)
		}

		config.S3.AccessKey = "access"
		if err := config.Validate(); !errors.Is(err, ErrS3SecretKeyRequired) {
			t.Fatalf("expected ErrS3SecretKeyRequired, got %v", err)
		}

		config.S3.SecretKey = "secret"
		if err := config.Validate(); err != nil {
			t.Fatalf("complete S3 config should be valid: %v", err)
		}
	})

	t.Run("AutoRegion", func(t *testing.T) {
		config := validConfig()
		config.S3 = S3Config{Bucket: "reports", AccessKey: "a", SecretKey: "s", Region: regionAuto}

		if err := config.Validate(); err != nil {
			t.Fatalf("auto region should be valid: %v", err)
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		testCases := []struct {
			name   string
			mutate func(*Config)
			want   error
		}{
			{"driver", func(c *Config) { c.Driver = "oracle" }, ErrDriverInvalid},
			{"statement timeout", func(c *Config) { c.StatementTimeout = -1 }, ErrStatementTimeoutInvalid},
			{"table name", func(c *Config) { c.Tables = []string{"orders; DROP TABLE x"} }, ErrTableNameInvalid},
			{"watch mode", func(c *Config) { c.WatchMode = "forever" }, ErrWatchModeInvalid},
			{"chunk size zero", func(c *Config) { c.ChunkSize = 0 }, ErrChunkSizeMinimum},
			{"chunk size too big", func(c *Config) { c.ChunkSize = maxChunkSize + 1 }, ErrChunkSizeMaximum},
			{"timeout", func(c *Config) { c.Timeout = 0 }, ErrTimeoutInvalid},
			{"sub-second timeout", func(c *Config) { c.Timeout = 10 * time.Nanosecond }, ErrTimeoutInvalid},
			{"wait interval", func(c *Config) { c.WaitInterval = -time.Second }, ErrWaitIntervalInvalid},
			{"retry count", func(c *Config) { c.Retry.Count = -1 }, ErrRetryCountInvalid},
			{"retry count too high", func(c *Config) { c.Retry.Count = maxRetryCount + 1 }, ErrRetryCountInvalid},
			{"retry wait", func(c *Config) { c.Retry.Wait = -time.Second }, ErrRetryWaitInvalid},
			{"report format", func(c *Config) { c.Report.Dir = "out"; c.Report.Format = "xml" }, ErrOutputFormatInvalid},
			{"compression", func(c *Config) { c.Report.Dir = "out"; c.Report.Compression = "brotli" }, ErrCompressionInvalid},
			{"compression level", func(c *Config) { c.Report.Dir = "out"; c.Report.CompressionLevel = 23 }, ErrCompressionLevelInvalid},
			{"gzip level", func(c *Config) {
				c.Report.Dir = "out"
				c.Report.Compression = "gzip"
				c.Report.CompressionLevel = 10
			}, ErrCompressionLevelInvalid},
			{"empty path template", func(c *Config) { c.Report.Dir = "out"; c.Report.PathTemplate = "" }, ErrPathTemplateRequired},
			{"path template without run", func(c *Config) { c.Report.Dir = "out"; c.Report.PathTemplate = "{YYYY}/{mode}" }, ErrPathTemplateInvalid},
			{"region", func(c *Config) {
				c.S3 = S3Config{Bucket: "b", AccessKey: "a", SecretKey: "s", Region: "us east 1"}
			}, ErrS3RegionInvalid},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				config := validConfig()
				tc.mutate(config)

				err := config.Validate()
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
			})
		}
	})

	t.Run("ValidTableNames", func(t *testing.T) {
		for _, name := range []string{"orders", "_staging", "public.orders", "Table123"} {
			t.Run(name, func(t *testing.T) {
				config := validConfig()
				config.Tables = []string{name}

				if err := config.Validate(); err != nil {
					t.Fatalf("table name %q should be valid: %v", name, err)
				}
			})
		}
	})

	t.Run("NoneCompressionIgnoresLevel", func(t *testing.T) {
		config := validConfig()
		config.Report.Dir = "out"
		config.Report.Compression = "none"
		config.Report.CompressionLevel = 99

		if err := config.Validate(); err != nil {
			t.Fatalf("compression level should not matter without compression: %v", err)
		}
	})
}

func TestRegionValidation(t *testing.T) {
	t.Run("ValidRegions", func(t *testing.T) {
		validRegions := []string{
			"us-east-1",
			"eu-central-1",
			"custom_region",
		}

		for _, region := range validRegions {
			if !isValidRegion(region) {
				t.Errorf("region '%s' should be valid", region)
			}
		}
	})

	t.Run("InvalidRegions", func(t *testing.T) {
		invalidRegions := []string{
			"",
			"us east 1",
			"region@test",
			string(make([]byte, 51)),
		}

		for _, region := range invalidRegions {
			if isValidRegion(region) {
				t.Errorf("region '%s' should be invalid", region)
			}
		}
	})
}

func TestConnectorConfig(t *testing.T) {
	config := validConfig()
	config.Master.SSLMode = "require"

	cc := config.connectorConfig(config.Master)
	if cc.Driver != "mysql" || cc.Port != 3060 || cc.Database != "shop" || cc.SSLMode != "require" || cc.StatementTimeout != 300 {
		t.Errorf("unexpected connector config %+v", cc)
	}
}
