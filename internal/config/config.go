package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"drive-ally/internal/nav"
)

type Config struct {
	DriverID    string `validate:"required"`
	HTTPAddr    string `validate:"required"`
	MetricsAddr string

	NATSURL         string
	NATSEnabled     bool
	LogNATSSubjects bool

	OSRMURL string `validate:"required,url"`

	HistoryDriver string `validate:"oneof=sqlite postgres"`
	DatabaseURL   string `validate:"required_if=HistoryDriver postgres"`
	SQLitePath    string `validate:"required_if=HistoryDriver sqlite"`

	TrainingRoutesFile string
	HazardKeywordsFile string

	ExtendedProtection bool
	SpeechQueueSize    int `validate:"gt=0"`
	Location           *time.Location

	// cmd/replay
	ReplayOrigin      *nav.Coordinate
	ReplayDestination *nav.Coordinate
	PublishInterval   time.Duration `validate:"gt=0"`
	SpeedMultiplier   float64       `validate:"gt=0"`
	ReplaySpeedKmh    float64       `validate:"gt=0"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DriverID:           getenvDefault("DRIVER_ID", "driver"),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		NATSURL:            getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		OSRMURL:            getenvDefault("OSRM_URL", "https://router.project-osrm.org"),
		HistoryDriver:      strings.ToLower(getenvDefault("HISTORY_DRIVER", "sqlite")),
		SQLitePath:         getenvDefault("SQLITE_PATH", "drive-ally.db"),
		TrainingRoutesFile: os.Getenv("TRAINING_ROUTES_FILE"),
		HazardKeywordsFile: os.Getenv("HAZARD_KEYWORDS_FILE"),
	}

	var err error
	if cfg.NATSEnabled, err = boolEnv("NATS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.LogNATSSubjects, err = boolEnv("LOG_NATS_SUBJECTS", false); err != nil {
		return nil, err
	}
	if cfg.ExtendedProtection, err = boolEnv("EXTENDED_PROTECTION", true); err != nil {
		return nil, err
	}

	if cfg.HistoryDriver == "postgres" {
		if cfg.DatabaseURL, err = postgresDSN(); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("SPEECH_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SPEECH_QUEUE_SIZE: %q", v)
		}
		cfg.SpeechQueueSize = n
	} else {
		cfg.SpeechQueueSize = 16
	}

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	if v := os.Getenv("REPLAY_SPEED_KMH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid REPLAY_SPEED_KMH: %q", v)
		}
		cfg.ReplaySpeedKmh = f
	} else {
		cfg.ReplaySpeedKmh = 40
	}

	if cfg.ReplayOrigin, err = coordEnv("REPLAY_ORIGIN"); err != nil {
		return nil, err
	}
	if cfg.ReplayDestination, err = coordEnv("REPLAY_DESTINATION"); err != nil {
		return nil, err
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds one from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when HISTORY_DRIVER=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func boolEnv(k string, def bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "":
		return def, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", k, v)
}

func coordEnv(k string) (*nav.Coordinate, error) {
	v := os.Getenv(k)
	if v == "" {
		return nil, nil
	}
	c, err := nav.ParseCoordinate(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", k, err)
	}
	return &c, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
