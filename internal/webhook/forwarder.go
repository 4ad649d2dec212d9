package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrQueueFull 转发队列已满，报警被丢弃
var ErrQueueFull = errors.New("webhook queue is full")

// AlertPayload webhook 请求体
type AlertPayload struct {
	AlertID   string                `json:"alertId"`
	PatientID string                `json:"patientId"`
	DeviceID  string                `json:"deviceId"`
	Severity  models.Severity       `json:"severity"`
	Message   string                `json:"message"`
	Vitals    models.VitalsSnapshot `json:"vitals"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Config 转发配置
type Config struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	QueueSize  int
}

// AlertForwarder 把已持久化的报警异步转发到外部通知系统（尽力而为）
// 发送在独立协程中完成，不阻塞摄取处理。
type AlertForwarder struct {
	url        string
	httpClient *resty.Client
	queue      chan *models.Alert
	logger     *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAlertForwarder 创建报警转发器
func NewAlertForwarder(cfg Config, logger *zap.Logger) *AlertForwarder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AlertForwarder{
		url:        cfg.URL,
		httpClient: client,
		queue:      make(chan *models.Alert, queueSize),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start 启动发送协程
func (f *AlertForwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
}

// Enqueue 非阻塞入队
func (f *AlertForwarder) Enqueue(alert *models.Alert) error {
	select {
	case <-f.stopCh:
		return fmt.Errorf("webhook forwarder stopped")
	default:
	}

	select {
	case f.queue <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyAlert 作为推送扩展使用：入队失败只记录日志
func (f *AlertForwarder) NotifyAlert(alert *models.Alert) {
	if err := f.Enqueue(alert); err != nil {
		f.logger.Warn("Dropped alert webhook",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}
}

// Stop 停止发送协程（队列中剩余报警尽量发完）
func (f *AlertForwarder) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop webhook forwarder: %w", ctx.Err())
	}
}

func (f *AlertForwarder) run(ctx context.Context) {
	for {
		select {
		case alert := <-f.queue:
			f.deliver(ctx, alert)
		case <-ctx.Done():
			return
		case <-f.stopCh:
			f.drain(ctx)
			return
		}
	}
}

func (f *AlertForwarder) drain(ctx context.Context) {
	for {
		select {
		case alert := <-f.queue:
			f.deliver(ctx, alert)
		default:
			return
		}
	}
}

func (f *AlertForwarder) deliver(ctx context.Context, alert *models.Alert) {
	if err := f.Send(ctx, alert); err != nil {
		f.logger.Error("Alert webhook failed",
			zap.String("alert_id", alert.AlertID),
			zap.String("patient_id", alert.PatientID),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("Alert webhook delivered", zap.String("alert_id", alert.AlertID))
}

// Send 同步发送一条报警（含重试）
func (f *AlertForwarder) Send(ctx context.Context, alert *models.Alert) error {
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetBody(AlertPayload{
			AlertID:   alert.AlertID,
			PatientID: alert.PatientID,
			DeviceID:  alert.DeviceID,
			Severity:  alert.Severity,
			Message:   alert.Message,
			Vitals:    alert.Vitals,
			CreatedAt: alert.CreatedAt,
		}).
		Post(f.url)
	if err != nil {
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}
	return nil
}
