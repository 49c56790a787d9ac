package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"corsOrigin"`

	StoreBackend        string `yaml:"storeBackend"`
	GCPProjectID        string `yaml:"gcpProjectId"`
	FirestoreDatabase   string `yaml:"firestoreDatabase"`
	FirestoreCollection string `yaml:"firestoreCollection"`
	CredentialsFile     string `yaml:"credentialsFile"`
	DataDir             string `yaml:"dataDir"`

	DevMode              bool     `yaml:"devMode"`
	AuthSecret           string   `yaml:"authSecret"`
	OperatorPasswordHash string   `yaml:"operatorPasswordHash"`
	AdminOperators       []string `yaml:"adminOperators"`

	TickInterval        time.Duration `yaml:"tickInterval"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	HoldWindow          time.Duration `yaml:"holdWindow"`
	SubscribeMaxRetries int           `yaml:"subscribeMaxRetries"`
	RetryDelay          time.Duration `yaml:"retryDelay"`
	FlushMaxAttempts    int           `yaml:"flushMaxAttempts"`
	BackupLimit         int           `yaml:"backupLimit"`
	Timezone            string        `yaml:"timezone"`
	RaceID              string        `yaml:"raceId"`

	SMTP SMTP `yaml:"smtp"`

	LogLevel string `yaml:"logLevel"`
}

type SMTP struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	From string `yaml:"from"`
}

// Load reads the environment and then applies the YAML file named by
// CONFIG_FILE, if any. Values set in the file win.
func Load() (Config, error) {
	cfg := Config{
		Port:       getEnv("PORT", "8080"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),

		StoreBackend:        getEnv("STORE_BACKEND", "memory"),
		GCPProjectID:        os.Getenv("GCP_PROJECT_ID"),
		FirestoreDatabase:   os.Getenv("FIRESTORE_DATABASE"),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "mtb_riders"),
		CredentialsFile:     os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		DataDir:             getEnv("DATA_DIR", "./data"),

		DevMode:              os.Getenv("DEV_MODE") == "true",
		AuthSecret:           os.Getenv("AUTH_SECRET"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		AdminOperators:       getEnvList("ADMIN_OPERATORS"),

		TickInterval:        getEnvDuration("TICK_INTERVAL", time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 5*time.Second),
		HoldWindow:          getEnvDuration("HOLD_WINDOW", 5*time.Second),
		SubscribeMaxRetries: getEnvInt("SUBSCRIBE_MAX_RETRIES", 5),
		RetryDelay:          getEnvDuration("RETRY_DELAY", 2*time.Second),
		FlushMaxAttempts:    getEnvInt("FLUSH_MAX_ATTEMPTS", 3),
		BackupLimit:         getEnvInt("BACKUP_LIMIT", 50),
		Timezone:            getEnv("TIMEZONE", "Local"),
		RaceID:              os.Getenv("RACE_ID"),

		SMTP: SMTP{
			Host: os.Getenv("SMTP_HOST"),
			Port: os.Getenv("SMTP_PORT"),
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
			From: os.Getenv("SMTP_FROM"),
		},

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "firestore":
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if !c.DevMode && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required unless DEV_MODE is enabled")
	}
	return nil
}

// Location resolves Timezone, falling back to the local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
