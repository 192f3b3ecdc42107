package config

import (
	"github.com/spf13/viper"
	"sync"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("nftpf_api_key", "NFTPF_API_KEY")
		viper.BindEnv("nftpf_api_host", "NFTPF_API_HOST")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("alert_store_path", "ALERT_STORE_PATH")
		viper.BindEnv("poll_interval_minutes", "POLL_INTERVAL_MINUTES")
		viper.BindEnv("cache_ttl_minutes", "CACHE_TTL_MINUTES")
		viper.BindEnv("fetch_timeout_seconds", "FETCH_TIMEOUT_SECONDS")
		viper.BindEnv("send_rate_per_second", "SEND_RATE_PER_SECOND")
		viper.BindEnv("max_alerts_per_user", "MAX_ALERTS_PER_USER")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("nftpf_api_host", "nftpf-api-v0.p.rapidapi.com")
		viper.SetDefault("db_path", "/app/data/bot.db")
		viper.SetDefault("alert_store_path", "/app/data/alerts.json")
		viper.SetDefault("poll_interval_minutes", 5)
		viper.SetDefault("cache_ttl_minutes", 5)
		viper.SetDefault("fetch_timeout_seconds", 15)
		viper.SetDefault("send_rate_per_second", 25)
		viper.SetDefault("max_alerts_per_user", 10)
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}
