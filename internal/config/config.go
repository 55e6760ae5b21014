package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses interval settings
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Required settings are enforced through must()
// and abort startup when missing; delivery-channel credentials are
// deliberately optional because a missing channel configuration is a
// per-send failure recorded in the notification log, not a reason to
// refuse to boot.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	TickInterval        time.Duration // dose evaluation tick interval
	MaintenanceInterval time.Duration // log purge interval
	SweepInterval       time.Duration // empty-schedule deactivation sweep interval
	LogRetention        time.Duration // notification log retention horizon
	EngineWorkers       int           // concurrent schedules per tick
	SendTimeout         time.Duration // per-channel send timeout

	SMTPHost string // SMTP relay host (empty disables email)
	SMTPPort string // SMTP relay port
	SMTPFrom string // From address for reminder mail
	SMTPUser string // SMTP auth username (optional)
	SMTPPass string // SMTP auth password (optional)

	TwilioAccountSID string // Twilio account SID (empty disables sms)
	TwilioAuthToken  string // Twilio auth token
	TwilioFrom       string // Twilio sending number

	FCMServerKey string // Firebase Cloud Messaging server key (empty disables push)
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		TickInterval:        envDur("ENGINE_TICK_INTERVAL", 60*time.Second),
		MaintenanceInterval: envDur("MAINTENANCE_INTERVAL", 24*time.Hour),
		SweepInterval:       envDur("SWEEP_INTERVAL", time.Hour),
		LogRetention:        envDur("LOG_RETENTION", 90*24*time.Hour),
		EngineWorkers:       envInt("ENGINE_WORKERS", 8),
		SendTimeout:         envDur("NOTIFY_SEND_TIMEOUT", 10*time.Second),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: envStr("SMTP_PORT", "587"),
		SMTPFrom: os.Getenv("SMTP_FROM"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),

		FCMServerKey: os.Getenv("FCM_SERVER_KEY"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
