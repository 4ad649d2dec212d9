package mqtt

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// Client MQTT客户端封装
//
// 与 paho 默认行为不同：关闭自动重连，连接丢失通过 ConnectionLost() 通知调用方，
// 由调用方决定重连节奏和次数。
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	lost   chan error
	logger *zap.Logger
}

// NewClient 创建MQTT客户端（不立即连接）
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		config: cfg,
		lost:   make(chan error, 1),
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	// clean session：每次连接成功后需要重新订阅
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case c.lost <- err:
		default:
		}
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect 连接 broker，阻塞直到成功、失败或 ctx 取消
func (c *Client) Connect(ctx context.Context) error {
	// 丢弃上一次会话遗留的断线通知
	select {
	case <-c.lost:
	default:
	}

	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断处理
			c.logger.Error("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out subscribing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.WaitTimeout(5 * time.Second)

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250) // 250ms等待时间
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectionLost 连接丢失通知
func (c *Client) ConnectionLost() <-chan error {
	return c.lost
}
