package config

import (
	"fmt"
	"strings"
	"time"

	"wisefido-vitals/common/config"

	"github.com/spf13/viper"
)

// Config 体征服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		AllowedOrigins  []string
	}

	// 设备消息摄取
	Ingestion struct {
		TopicNamespace      string        // 主题命名空间，如 "hospital" → hospital/+/vitals
		QueueSize           int           // 回调到处理协程之间的缓冲队列长度
		DefaultSamplingRate int           // ECG 缺省采样率
		StoreTimeout        time.Duration // 单次存储写入超时
	}

	// Redis 快速存储
	Cache struct {
		KeyPrefix   string // 键前缀，如 "vitals:"
		LatestTTL   int    // latest 投影 TTL（秒），0 表示不过期
		AlertStream string // 报警镜像流
	}

	// 报警 webhook 转发（URL 为空时关闭）
	Webhook struct {
		URL        string
		Timeout    time.Duration
		RetryCount int
		QueueSize  int
	}

	Auth struct {
		JWTSecret string
		Issuer    string
	}

	// WebSocket 网关
	Gateway struct {
		SendBufferSize int
		MaxMessageSize int64
		WriteWait      time.Duration
		PongWait       time.Duration
		ResolveTimeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（默认值 → 可选 CONFIG_FILE → 环境变量）
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}

	cfg.Database.Host = v.GetString("DB_HOST")
	cfg.Database.Port = v.GetInt("DB_PORT")
	cfg.Database.User = v.GetString("DB_USER")
	cfg.Database.Password = v.GetString("DB_PASSWORD")
	cfg.Database.Database = v.GetString("DB_NAME")
	cfg.Database.SSLMode = v.GetString("DB_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DB_MAX_CONNS")
	cfg.Database.MaxIdle = v.GetInt("DB_MAX_IDLE")

	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.MQTT.Broker = v.GetString("MQTT_BROKER")
	cfg.MQTT.ClientID = v.GetString("MQTT_CLIENT_ID")
	cfg.MQTT.Username = v.GetString("MQTT_USERNAME")
	cfg.MQTT.Password = v.GetString("MQTT_PASSWORD")
	cfg.MQTT.QoS = byte(v.GetInt("MQTT_QOS"))
	cfg.MQTT.KeepAlive = v.GetDuration("MQTT_KEEPALIVE")
	cfg.MQTT.ReconnectDelay = v.GetDuration("MQTT_RECONNECT_DELAY")
	cfg.MQTT.MaxReconnectAttempts = v.GetInt("MQTT_MAX_RECONNECT_ATTEMPTS")
	cfg.MQTT.ConnectTimeout = v.GetDuration("MQTT_CONNECT_TIMEOUT")

	cfg.HTTP.Addr = v.GetString("HTTP_ADDR")
	cfg.HTTP.ReadTimeout = v.GetDuration("HTTP_READ_TIMEOUT")
	cfg.HTTP.WriteTimeout = v.GetDuration("HTTP_WRITE_TIMEOUT")
	cfg.HTTP.ShutdownTimeout = v.GetDuration("HTTP_SHUTDOWN_TIMEOUT")
	cfg.HTTP.AllowedOrigins = splitList(v.GetString("HTTP_ALLOWED_ORIGINS"))

	cfg.Ingestion.TopicNamespace = v.GetString("MQTT_TOPIC_NAMESPACE")
	cfg.Ingestion.QueueSize = v.GetInt("INGESTION_QUEUE_SIZE")
	cfg.Ingestion.DefaultSamplingRate = v.GetInt("ECG_DEFAULT_SAMPLING_RATE")
	cfg.Ingestion.StoreTimeout = v.GetDuration("INGESTION_STORE_TIMEOUT")

	cfg.Cache.KeyPrefix = v.GetString("CACHE_KEY_PREFIX")
	cfg.Cache.LatestTTL = v.GetInt("CACHE_LATEST_TTL")
	cfg.Cache.AlertStream = v.GetString("CACHE_ALERT_STREAM")

	cfg.Webhook.URL = v.GetString("ALERT_WEBHOOK_URL")
	cfg.Webhook.Timeout = v.GetDuration("ALERT_WEBHOOK_TIMEOUT")
	cfg.Webhook.RetryCount = v.GetInt("ALERT_WEBHOOK_RETRIES")
	cfg.Webhook.QueueSize = v.GetInt("ALERT_WEBHOOK_QUEUE_SIZE")

	cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")
	cfg.Auth.Issuer = v.GetString("JWT_ISSUER")

	cfg.Gateway.SendBufferSize = v.GetInt("WS_SEND_BUFFER")
	cfg.Gateway.MaxMessageSize = v.GetInt64("WS_MAX_MESSAGE_SIZE")
	cfg.Gateway.WriteWait = v.GetDuration("WS_WRITE_WAIT")
	cfg.Gateway.PongWait = v.GetDuration("WS_PONG_WAIT")
	cfg.Gateway.ResolveTimeout = v.GetDuration("WS_RESOLVE_TIMEOUT")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.Format = v.GetString("LOG_FORMAT")

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "vitals")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE", 5)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "wisefido-vitals")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_QOS", 1)
	v.SetDefault("MQTT_KEEPALIVE", 60*time.Second)
	v.SetDefault("MQTT_RECONNECT_DELAY", 5*time.Second)
	v.SetDefault("MQTT_MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("MQTT_CONNECT_TIMEOUT", 10*time.Second)
	v.SetDefault("MQTT_TOPIC_NAMESPACE", "hospital")

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_ALLOWED_ORIGINS", "*")

	v.SetDefault("INGESTION_QUEUE_SIZE", 1024)
	v.SetDefault("ECG_DEFAULT_SAMPLING_RATE", 250)
	v.SetDefault("INGESTION_STORE_TIMEOUT", 5*time.Second)

	v.SetDefault("CACHE_KEY_PREFIX", "vitals:")
	v.SetDefault("CACHE_LATEST_TTL", 0)
	v.SetDefault("CACHE_ALERT_STREAM", "vitals:alerts:stream")

	v.SetDefault("ALERT_WEBHOOK_URL", "")
	v.SetDefault("ALERT_WEBHOOK_TIMEOUT", 5*time.Second)
	v.SetDefault("ALERT_WEBHOOK_RETRIES", 3)
	v.SetDefault("ALERT_WEBHOOK_QUEUE_SIZE", 256)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 4096)
	v.SetDefault("WS_WRITE_WAIT", 10*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_RESOLVE_TIMEOUT", 5*time.Second)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate 校验启动 serve 所需的配置
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	ns := c.Ingestion.TopicNamespace
	if ns == "" || strings.ContainsAny(ns, "/+#") {
		return fmt.Errorf("invalid MQTT_TOPIC_NAMESPACE %q", ns)
	}
	if c.MQTT.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MQTT_MAX_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Ingestion.QueueSize <= 0 {
		return fmt.Errorf("INGESTION_QUEUE_SIZE must be > 0")
	}
	if c.Webhook.URL != "" && !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return fmt.Errorf("invalid ALERT_WEBHOOK_URL %q", c.Webhook.URL)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
