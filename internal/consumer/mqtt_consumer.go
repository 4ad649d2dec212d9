package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttcommon "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Broker 设备 broker 会话（由 common/mqtt.Client 实现）
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect()
	ConnectionLost() <-chan error
}

// VitalsStore 体征历史写入
type VitalsStore interface {
	InsertVitalReading(ctx context.Context, reading *models.VitalReading) error
	InsertEcgSample(ctx context.Context, sample *models.EcgSample) error
}

// DeviceStore 设备写入
type DeviceStore interface {
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// AlertStore 报警写入
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
}

// FastStore Redis latest 投影写入
type FastStore interface {
	SetLatestVitals(ctx context.Context, reading *models.VitalReading) error
	SetPatientLatestVitals(ctx context.Context, reading *models.VitalReading) error
	SetEcgMetrics(ctx context.Context, metrics *models.EcgMetrics) error
	MergeDeviceStatus(ctx context.Context, device *models.Device) error
	MergePatientStatus(ctx context.Context, status *models.PatientStatus) error
	MirrorAlert(ctx context.Context, alert *models.Alert) (string, error)
}

// Notifier 实时推送（尽力而为，不影响存储）
type Notifier interface {
	NotifyVitalReading(reading *models.VitalReading)
	NotifyAlert(alert *models.Alert)
	NotifyPatientStatus(status *models.PatientStatus)
}

// Stores 消费者依赖的存储
type Stores struct {
	Vitals  VitalsStore
	Devices DeviceStore
	Alerts  AlertStore
	Cache   FastStore
}

// State 摄取客户端状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateStopped      State = "stopped"
)

type inboundMessage struct {
	topic   string
	payload []byte
}

// MQTTConsumer 设备遥测摄取客户端
//
// 自己负责重连：固定间隔 ReconnectDelay，连续失败超过 MaxReconnectAttempts 次后进入 stopped，
// 需要外部重启。消息由单个协程顺序处理，单条失败不影响后续消息。
type MQTTConsumer struct {
	config       *config.Config
	broker       Broker
	stores       Stores
	notifier     Notifier
	decoder      *Decoder
	alertBuilder *evaluator.AlertBuilder
	logger       *zap.Logger
	now          func() time.Time

	messages chan inboundMessage

	mu       sync.RWMutex
	state    State
	attempts int
	started  bool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	broker Broker,
	stores Stores,
	notifier Notifier,
	logger *zap.Logger,
) *MQTTConsumer {
	queueSize := cfg.Ingestion.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &MQTTConsumer{
		config:       cfg,
		broker:       broker,
		stores:       stores,
		notifier:     notifier,
		decoder:      NewDecoder(cfg.Ingestion.TopicNamespace, cfg.Ingestion.DefaultSamplingRate),
		alertBuilder: evaluator.NewAlertBuilder(),
		logger:       logger,
		now:          time.Now,
		messages:     make(chan inboundMessage, queueSize),
		state:        StateDisconnected,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Topics 订阅的主题模式
func (c *MQTTConsumer) Topics() []string {
	topics := make([]string, 0, len(AllTopicKinds))
	for _, kind := range AllTopicKinds {
		topics = append(topics, fmt.Sprintf("%s/+/%s", c.config.Ingestion.TopicNamespace, kind))
	}
	return topics
}

// Start 启动连接监督协程和消息处理协程（非阻塞）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}
	if c.state == StateStopped {
		c.mu.Unlock()
		return ErrConsumerStopped
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.supervise(ctx)
	}()
	go func() {
		defer wg.Done()
		c.processLoop(ctx)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", c.Topics()),
		zap.Duration("reconnect_delay", c.config.MQTT.ReconnectDelay),
		zap.Int("max_reconnect_attempts", c.config.MQTT.MaxReconnectAttempts),
	)
	return nil
}

// Stop 停止消费者并等待协程退出
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	c.mu.RLock()
	started := c.started
	cancel := c.cancel
	c.mu.RUnlock()

	c.shutdown()
	if !started {
		return nil
	}
	cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop consumer: %w", ctx.Err())
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// Done 消费者所有协程退出后关闭
func (c *MQTTConsumer) Done() <-chan struct{} {
	return c.done
}

// State 当前状态
func (c *MQTTConsumer) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts 当前连续失败次数
func (c *MQTTConsumer) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// setState stopped 为终止状态，不再迁移
func (c *MQTTConsumer) setState(s State) {
	c.mu.Lock()
	if c.state != StateStopped || s == StateStopped {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *MQTTConsumer) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.setState(StateStopped)
	})
}

// supervise 连接状态机：disconnected → connecting → connected → (断线) → disconnected ...
func (c *MQTTConsumer) supervise(ctx context.Context) {
	defer func() {
		c.broker.Disconnect()
		c.shutdown()
	}()

	for {
		c.setState(StateConnecting)
		err := c.connectAndSubscribe(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			c.mu.Lock()
			c.attempts = 0
			c.mu.Unlock()
			c.setState(StateConnected)
			c.logger.Info("Connected to MQTT broker", zap.String("broker", c.config.MQTT.Broker))

			select {
			case lostErr := <-c.broker.ConnectionLost():
				c.logger.Warn("MQTT connection lost", zap.Error(lostErr))
			case <-ctx.Done():
				c.unsubscribe()
				return
			}
		} else {
			c.logger.Warn("Failed to connect to MQTT broker", zap.Error(err))
		}

		c.setState(StateDisconnected)
		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()

		if attempts > c.config.MQTT.MaxReconnectAttempts {
			c.logger.Error("Giving up on MQTT broker, ingestion stopped",
				zap.Int("attempts", attempts-1),
				zap.Int("max_reconnect_attempts", c.config.MQTT.MaxReconnectAttempts),
			)
			return
		}

		c.logger.Info("Reconnecting to MQTT broker",
			zap.Int("attempt", attempts),
			zap.Duration("delay", c.config.MQTT.ReconnectDelay),
		)

		timer := time.NewTimer(c.config.MQTT.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// connectAndSubscribe clean session 下每次连接都要重新订阅
func (c *MQTTConsumer) connectAndSubscribe(ctx context.Context) error {
	if err := c.broker.Connect(ctx); err != nil {
		return err
	}

	for _, topic := range c.Topics() {
		if err := c.broker.Subscribe(topic, c.config.MQTT.QoS, c.enqueue); err != nil {
			c.broker.Disconnect()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

func (c *MQTTConsumer) unsubscribe() {
	if err := c.broker.Unsubscribe(c.Topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
}

// enqueue broker 回调：只入队，处理在 processLoop 中完成
func (c *MQTTConsumer) enqueue(topic string, payload []byte) error {
	select {
	case <-c.stopCh:
		return ErrConsumerStopped
	default:
	}

	select {
	case c.messages <- inboundMessage{topic: topic, payload: payload}:
		return nil
	case <-c.stopCh:
		return ErrConsumerStopped
	}
}

func (c *MQTTConsumer) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.messages:
			if err := c.ProcessMessage(ctx, msg.topic, msg.payload); err != nil {
				c.logger.Warn("Failed to process message",
					zap.String("topic", msg.topic),
					zap.Int("payload_size", len(msg.payload)),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// ProcessMessage 处理单条设备消息
// 返回的错误只用于记录；存储写入相互独立，某一项失败不会阻止其他写入。
func (c *MQTTConsumer) ProcessMessage(ctx context.Context, topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	msg, err := c.decoder.Decode(topic, payload)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *VitalsMessage:
		return c.handleVitals(ctx, m)
	case *EcgMessage:
		return c.handleEcg(ctx, m)
	case *StatusMessage:
		return c.handleStatus(ctx, m)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func (c *MQTTConsumer) handleVitals(ctx context.Context, msg *VitalsMessage) error {
	p := msg.Payload
	reading := &models.VitalReading{
		DeviceID:       msg.DeviceID,
		PatientID:      p.PatientID,
		HeartRate:      p.HeartRate,
		SpO2:           p.SpO2,
		Temperature:    p.Temperature,
		Battery:        p.Battery,
		SignalStrength: p.SignalStrength,
		Severity:       evaluator.Classify(p.HeartRate, p.SpO2, p.Temperature),
		Timestamp:      c.now(),
	}

	var errs []error

	// 1. 持久化
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Vitals.InsertVitalReading(ctx, reading)
	}); err != nil {
		errs = append(errs, err)
	}

	// 2. 快速存储（覆盖写）
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Cache.SetLatestVitals(ctx, reading)
	}); err != nil {
		errs = append(errs, err)
	}
	if reading.HasKnownPatient() {
		if err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.stores.Cache.SetPatientLatestVitals(ctx, reading)
		}); err != nil {
			errs = append(errs, err)
		}
		c.notifier.NotifyVitalReading(reading)
	}

	// 3. 报警
	if reading.Severity != models.SeverityNormal {
		if err := c.raiseAlert(ctx, reading); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Debug("Processed vitals",
		zap.String("device_id", reading.DeviceID),
		zap.String("patient_id", reading.PatientID),
		zap.String("severity", string(reading.Severity)),
	)
	return errors.Join(errs...)
}

// raiseAlert 构建并写入报警；只有写入成功后才镜像和推送
func (c *MQTTConsumer) raiseAlert(ctx context.Context, reading *models.VitalReading) error {
	alert, err := c.alertBuilder.Build(reading)
	if err != nil {
		return err
	}

	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Alerts.InsertAlert(ctx, alert)
	}); err != nil {
		return err
	}

	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		_, err := c.stores.Cache.MirrorAlert(ctx, alert)
		return err
	}); err != nil {
		c.logger.Warn("Failed to mirror alert", zap.String("alert_id", alert.AlertID), zap.Error(err))
	}

	if reading.HasKnownPatient() {
		c.notifier.NotifyAlert(alert)
	}
	return nil
}

func (c *MQTTConsumer) handleEcg(ctx context.Context, msg *EcgMessage) error {
	p := msg.Payload
	now := c.now()
	sample := &models.EcgSample{
		DeviceID:     msg.DeviceID,
		PatientID:    p.PatientID,
		Values:       p.EcgValues,
		SamplingRate: *p.SamplingRate,
		Timestamp:    now,
	}

	var metrics *models.EcgMetrics
	if len(p.EcgValues) > 0 {
		hr := evaluator.EstimateEcgHeartRate(p.EcgValues)
		quality := evaluator.EstimateSignalQuality(p.EcgValues)
		sample.HeartRate = &hr
		sample.SignalQuality = quality
		metrics = &models.EcgMetrics{
			DeviceID:      msg.DeviceID,
			PatientID:     p.PatientID,
			HeartRate:     hr,
			SignalQuality: quality,
			SamplingRate:  sample.SamplingRate,
			SampleCount:   len(p.EcgValues),
			Timestamp:     now,
		}
	}

	var errs []error
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Vitals.InsertEcgSample(ctx, sample)
	}); err != nil {
		errs = append(errs, err)
	}
	if metrics != nil {
		if err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.stores.Cache.SetEcgMetrics(ctx, metrics)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *MQTTConsumer) handleStatus(ctx context.Context, msg *StatusMessage) error {
	p := msg.Payload
	now := c.now()
	device := &models.Device{
		DeviceID:        msg.DeviceID,
		LastSeen:        now,
		Status:          p.Status,
		Battery:         p.Battery,
		FirmwareVersion: p.FirmwareVersion,
	}
	known := p.PatientID != models.UnknownPatientID
	if known {
		patientID := p.PatientID
		device.PatientID = &patientID
	}

	var errs []error
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Cache.MergeDeviceStatus(ctx, device)
	}); err != nil {
		errs = append(errs, err)
	}
	if err := c.withTimeout(ctx, func(ctx context.Context) error {
		return c.stores.Devices.UpsertDevice(ctx, device)
	}); err != nil {
		errs = append(errs, err)
	}

	if known {
		status := &models.PatientStatus{
			PatientID: p.PatientID,
			DeviceID:  msg.DeviceID,
			Battery:   p.Battery,
			UpdatedAt: now,
		}
		if p.Status != nil {
			status.DeviceStatus = *p.Status
		}
		if err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.stores.Cache.MergePatientStatus(ctx, status)
		}); err != nil {
			errs = append(errs, err)
		}
		c.notifier.NotifyPatientStatus(status)
	}
	return errors.Join(errs...)
}

func (c *MQTTConsumer) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := c.config.Ingestion.StoreTimeout
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
