package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	OutputDir string
	UsersFile string

	StoreBackend string

	SheetsSpreadsheetID   string
	SheetsCredentialsFile string
	SheetsClientID        string
	SheetsClientSecret    string
	SheetsRedirectURI     string
	SheetsRefreshToken    string
	SheetsRateLimitRPS    int
	SheetsTimeoutMs       int

	SessionsTable string
	DetailTable   string

	CacheTTLSec      int
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	LockTTLSec       int
	MergeMaxAttempts int

	SampleTargets            string
	StrictClose              bool
	RequireDistinctValidator bool

	LogLevel  string
	LogFormat string
	LogOutput string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "cyclecount.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		UsersFile: getEnv("USERS_FILE", filepath.Join(cwd, "users.yaml")),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "sheets")),

		SheetsSpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetsCredentialsFile: getEnv("SHEETS_CREDENTIALS_FILE", ""),
		SheetsClientID:        getEnv("SHEETS_CLIENT_ID", ""),
		SheetsClientSecret:    getEnv("SHEETS_CLIENT_SECRET", ""),
		SheetsRedirectURI:     getEnv("SHEETS_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		SheetsRefreshToken:    getEnv("SHEETS_REFRESH_TOKEN", ""),
		SheetsRateLimitRPS:    getEnvInt("SHEETS_RATE_LIMIT_RPS", 1),
		SheetsTimeoutMs:       getEnvInt("SHEETS_TIMEOUT_MS", 30000),

		SessionsTable: getEnv("SESSIONS_TABLE", "Historial"),
		DetailTable:   getEnv("DETAIL_TABLE", "Detalle"),

		CacheTTLSec:      getEnvInt("CACHE_TTL_SEC", 30),
		RedisAddress:     getEnv("REDIS_ADDRESS", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		LockTTLSec:       getEnvInt("LOCK_TTL_SEC", 30),
		MergeMaxAttempts: getEnvInt("MERGE_MAX_ATTEMPTS", 3),

		SampleTargets:            getEnv("SAMPLE_TARGETS", "85,10,5"),
		StrictClose:              getEnvBool("STRICT_CLOSE", false),
		RequireDistinctValidator: getEnvBool("REQUIRE_DISTINCT_VALIDATOR", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogOutput: getEnv("LOG_OUTPUT", "stderr"),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" || value == "si" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
