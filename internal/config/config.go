package config

import (
	"log"

	"github.com/spf13/viper"
)

// Init loads configuration from .env with environment-variable override.
// Every subsystem reads its own keys through viper after this runs.
func Init() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.client_id", "GATEWAY_CLIENT_ID")
	viper.BindEnv("gateway.client_secret", "GATEWAY_CLIENT_SECRET")
	viper.BindEnv("gateway.webhook_secret", "GATEWAY_WEBHOOK_SECRET")
	viper.BindEnv("gateway.timeout", "GATEWAY_TIMEOUT")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("recon.interval", "RECON_INTERVAL")
	viper.BindEnv("recon.window_days", "RECON_WINDOW_DAYS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}
