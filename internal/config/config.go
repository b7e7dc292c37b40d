package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Admin    AdminConfig    `toml:"admin"`
	Ledger   LedgerConfig   `toml:"ledger"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	DBName     string `toml:"dbname"`
	SSLMode    string `toml:"sslmode"`
	TestDBName string `toml:"test_dbname"` // Separate database for testing
}

// AdminConfig holds the admin API authentication configuration.
// When AuthEnabled is false the admin routes are open; intended for
// local development only.
type AdminConfig struct {
	AuthEnabled  bool   `toml:"auth_enabled"`
	JWTSecret    string `toml:"jwt_secret"`
	PasswordHash string `toml:"password_hash"` // bcrypt hash of the admin password
}

// LedgerConfig holds the quota defaults applied to new user accounts.
type LedgerConfig struct {
	DefaultDailyQuota   decimal.Decimal `toml:"default_daily_quota"`
	DefaultRefillAmount decimal.Decimal `toml:"default_refill_amount"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables. If
// CREDITS_CONFIG points at a TOML file, values present in the file
// override the environment.
func LoadConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Username:   getEnv("DB_USERNAME", "postgres"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "credits"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TestDBName: getEnv("TEST_DB_NAME", "credits_test"),
		},
		Admin: AdminConfig{
			AuthEnabled:  getEnvAsBool("ADMIN_AUTH_ENABLED", true),
			JWTSecret:    getEnv("ADMIN_JWT_SECRET", "your-secret-key-here"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Ledger: LedgerConfig{
			DefaultDailyQuota:   getEnvAsDecimal("LEDGER_DEFAULT_DAILY_QUOTA", "100"),
			DefaultRefillAmount: getEnvAsDecimal("LEDGER_DEFAULT_REFILL_AMOUNT", "20"),
		},
	}

	if path := os.Getenv("CREDITS_CONFIG"); path != "" {
		// Keys absent from the file keep their env/default values.
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: ignoring config file %s: %v\n", path, err)
		}
	}

	return cfg
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if value, err := decimal.NewFromString(getEnv(key, "")); err == nil {
		return value
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}
