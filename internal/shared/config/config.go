package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Browser    BrowserConfig
	Proxy      ProxyConfig
	Source     SourceConfig
	HISDB      HISDBConfig
	Portals    PortalsConfig
	Batch      BatchConfig
	Submission SubmissionConfig
	Audit      AuditConfig
	Ops        OpsConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// BrowserConfig holds settings for the controlled browser process.
type BrowserConfig struct {
	// Headless disables the visible browser window
	Headless bool
	// NavTimeout bounds every navigation / wait-for-load step
	NavTimeout time.Duration
	// StepInterval is the minimum spacing between navigation steps,
	// enforced by a rate limiter rather than fixed sleeps
	StepInterval time.Duration
	// UserAgent overrides the browser user agent when set
	UserAgent string
	// UserDataDir persists the browser profile between runs, which keeps
	// portal session tokens alive; empty uses a throwaway profile
	UserDataDir string
}

// ProxyConfig controls egress routing for browser sessions.
type ProxyConfig struct {
	// Mode: "off", "endpoint" (explicit), "discover" (candidate pool)
	Mode string
	// Endpoint is the explicit proxy address (host:port or scheme://host:port)
	Endpoint string
	// Username/Password authenticate against the explicit endpoint
	Username string
	Password string
	// Sources are candidate proxy-list URLs for discovery mode
	Sources []string
	// GeoCheckURL returns the caller's country for a candidate proxy
	GeoCheckURL string
	// AllowedCountry is the ISO code discovery-mode proxies must resolve to
	AllowedCountry string
	// MaxAttempts bounds discovery; exhaustion falls back to no proxy
	MaxAttempts int
	// ValidateTimeout bounds each candidate validation call
	ValidateTimeout time.Duration
}

// SourceConfig holds credentials for the clinical record system.
type SourceConfig struct {
	BaseURL  string
	Username string
	Password string
}

// HISDBConfig enables the optional direct patient-number lookup against the
// clinic's HIS SQL Server. Disabled when Host is empty.
type HISDBConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	PatientTable string
}

func (h HISDBConfig) Enabled() bool {
	return h.Host != ""
}

// PortalsConfig holds per-portal-family credentials.
type PortalsConfig struct {
	MHC     PortalCredentials
	Allianz PortalCredentials
}

type PortalCredentials struct {
	BaseURL  string
	Username string
	Password string
}

type BatchConfig struct {
	// RetryCeiling is the maximum attempt count under which failed items
	// are re-queued when retries are requested
	RetryCeiling int
	// MaxItems caps one run's backlog; 0 means unlimited
	MaxItems int
}

type SubmissionConfig struct {
	// FinalSubmit performs the irreversible portal submission instead of
	// the default recoverable draft save. Off unless explicitly enabled.
	FinalSubmit bool
}

// AuditConfig holds configuration for the KurrentDB run-event trail.
type AuditConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type OpsConfig struct {
	// ListenAddr exposes /health, /ready and /metrics while a run is in
	// flight; empty disables the listener
	ListenAddr string
}

func Load() (*Config, error) {
	// .env is a convenience for local runs; absence is not an error
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "claimbridge"),
			Password: getEnv("DB_PASSWORD", "claimbridge"),
			Database: getEnv("DB_NAME", "claimbridge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Browser: BrowserConfig{
			Headless:     getEnvBool("BROWSER_HEADLESS", true),
			NavTimeout:   getEnvDuration("BROWSER_NAV_TIMEOUT", 45*time.Second),
			StepInterval: getEnvDuration("BROWSER_STEP_INTERVAL", 800*time.Millisecond),
			UserAgent:    getEnv("BROWSER_USER_AGENT", ""),
			UserDataDir:  getEnv("BROWSER_USER_DATA_DIR", ""),
		},
		Proxy: ProxyConfig{
			Mode:            getEnv("PROXY_MODE", "off"),
			Endpoint:        getEnv("PROXY_ENDPOINT", ""),
			Username:        getEnv("PROXY_USERNAME", ""),
			Password:        getEnv("PROXY_PASSWORD", ""),
			Sources:         getEnvSlice("PROXY_SOURCES", nil),
			GeoCheckURL:     getEnv("PROXY_GEO_CHECK_URL", "https://ipinfo.io/json"),
			AllowedCountry:  getEnv("PROXY_ALLOWED_COUNTRY", "MT"),
			MaxAttempts:     getEnvInt("PROXY_MAX_ATTEMPTS", 5),
			ValidateTimeout: getEnvDuration("PROXY_VALIDATE_TIMEOUT", 10*time.Second),
		},
		Source: SourceConfig{
			BaseURL:  getEnv("SOURCE_BASE_URL", ""),
			Username: getEnv("SOURCE_USERNAME", ""),
			Password: getEnv("SOURCE_PASSWORD", ""),
		},
		HISDB: HISDBConfig{
			Host:         getEnv("HISDB_HOST", ""),
			Port:         getEnvInt("HISDB_PORT", 1433),
			Database:     getEnv("HISDB_NAME", ""),
			User:         getEnv("HISDB_USER", ""),
			Password:     getEnv("HISDB_PASSWORD", ""),
			SSLMode:      getEnv("HISDB_SSLMODE", "disable"),
			PatientTable: getEnv("HISDB_PATIENT_TABLE", "dbo.Patients"),
		},
		Portals: PortalsConfig{
			MHC: PortalCredentials{
				BaseURL:  getEnv("MHC_BASE_URL", ""),
				Username: getEnv("MHC_USERNAME", ""),
				Password: getEnv("MHC_PASSWORD", ""),
			},
			Allianz: PortalCredentials{
				BaseURL:  getEnv("ALLIANZ_BASE_URL", ""),
				Username: getEnv("ALLIANZ_USERNAME", ""),
				Password: getEnv("ALLIANZ_PASSWORD", ""),
			},
		},
		Batch: BatchConfig{
			RetryCeiling: getEnvInt("BATCH_RETRY_CEILING", 3),
			MaxItems:     getEnvInt("BATCH_MAX_ITEMS", 0),
		},
		Submission: SubmissionConfig{
			FinalSubmit: getEnvBool("SUBMISSION_FINAL_SUBMIT", false),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("AUDIT_ENABLED", false),
			Host:     getEnv("AUDIT_KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("AUDIT_KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("AUDIT_KURRENTDB_INSECURE", true),
			Username: getEnv("AUDIT_KURRENTDB_USERNAME", ""),
			Password: getEnv("AUDIT_KURRENTDB_PASSWORD", ""),
		},
		Ops: OpsConfig{
			ListenAddr: getEnv("OPS_LISTEN_ADDR", ""),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
