package config

import (
	"fmt"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	KeepAlive time.Duration

	// 重连策略：固定间隔 + 最大次数（由 consumer 控制，不使用 paho 自带的自动重连）
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}
