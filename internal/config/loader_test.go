package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/facewatch/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8000")
				convey.So(cfg.RecentLimit, convey.ShouldEqual, 5)
				convey.So(cfg.Store.Postgres.Port, convey.ShouldEqual, 5432)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FACEWATCH_ADDR", ":9000")
			_ = os.Setenv("FACEWATCH_STORE__DRIVER", "sqlite")
			_ = os.Setenv("FACEWATCH_STORE__POSTGRES__HOST", "db.internal")
			_ = os.Setenv("FACEWATCH_BROKER__MAX_PRIORITY", "5")
			_ = os.Setenv("FACEWATCH_HUB__SEND_TIMEOUT", "2s")
			_ = os.Setenv("FACEWATCH_BROKER__DURABLE", "true")
			_ = os.Setenv("FACEWATCH_STORE__SQLITE__BUSY_TIMEOUT", "250ms")
			_ = os.Setenv("FACEWATCH_STORE__POSTGRES__MAX_CONNS", "3")
			_ = os.Setenv("FACEWATCH_METRICS__ENABLED", "false")
			_ = os.Setenv("FACEWATCH_METRICS__REFRESH_INTERVAL", "30s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then nested keys should be overridden", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9000")
				convey.So(cfg.Store.Driver, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.Store.Postgres.Host, convey.ShouldEqual, "db.internal")
				convey.So(cfg.Broker.MaxPriority, convey.ShouldEqual, 5)
				convey.So(cfg.Hub.SendTimeout, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.Broker.Durable, convey.ShouldBeTrue)
				convey.So(cfg.Store.SQLite.BusyTimeout, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.Store.Postgres.MaxConns, convey.ShouldEqual, 3)
				convey.So(cfg.Metrics.Enabled, convey.ShouldBeFalse)
				convey.So(cfg.Metrics.RefreshInterval, convey.ShouldEqual, 30*time.Second)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
recent_limit: 7
store:
  driver: memory
upload:
  jpeg_quality: 80
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("FACEWATCH_CONFIG", tmpFile)
			_ = os.Setenv("FACEWATCH_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.RecentLimit, convey.ShouldEqual, 7)
				convey.So(cfg.Store.Driver, convey.ShouldEqual, config.StoreMemory)
				convey.So(cfg.Upload.JPEGQuality, convey.ShouldEqual, 80)
				convey.So(cfg.Upload.Timeout, convey.ShouldEqual, 10*time.Second)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("FACEWATCH_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("FACEWATCH_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with an unknown driver", func() {
			_ = os.Setenv("FACEWATCH_BROKER__DRIVER", "kafka")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "broker.driver")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("FACEWATCH_RECENT_LIMIT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestConfigLoaderDotEnv(t *testing.T) {
	convey.Convey("Given a .env file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "facewatch.env")
		err := os.WriteFile(path, []byte("FACEWATCH_INGEST__URL=http://ingest:8000\nFACEWATCH_RECENT_LIMIT=3\n"), 0o600)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When FACEWATCH_ENV_FILE points at it", func() {
			_ = os.Setenv("FACEWATCH_ENV_FILE", path)
			_ = os.Setenv("FACEWATCH_RECENT_LIMIT", "9")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values load without overriding the real environment", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Ingest.URL, convey.ShouldEqual, "http://ingest:8000")
				convey.So(cfg.RecentLimit, convey.ShouldEqual, 9)
			})
		})

		convey.Convey("When FACEWATCH_ENV_FILE points at a missing file", func() {
			_ = os.Setenv("FACEWATCH_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "FACEWATCH_") {
			_ = os.Unsetenv(name)
		}
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facewatch-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
