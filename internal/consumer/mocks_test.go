package consumer

import (
	"context"
	"sync"

	mqttcommon "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStores 实现 VitalsStore / DeviceStore / AlertStore / FastStore
type MockStores struct {
	mock.Mock
}

func (m *MockStores) InsertVitalReading(ctx context.Context, reading *models.VitalReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockStores) InsertEcgSample(ctx context.Context, sample *models.EcgSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockStores) UpsertDevice(ctx context.Context, device *models.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockStores) InsertAlert(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockStores) SetLatestVitals(ctx context.Context, reading *models.VitalReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockStores) SetPatientLatestVitals(ctx context.Context, reading *models.VitalReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockStores) SetEcgMetrics(ctx context.Context, metrics *models.EcgMetrics) error {
	args := m.Called(ctx, metrics)
	return args.Error(0)
}

func (m *MockStores) MergeDeviceStatus(ctx context.Context, device *models.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockStores) MergePatientStatus(ctx context.Context, status *models.PatientStatus) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

func (m *MockStores) MirrorAlert(ctx context.Context, alert *models.Alert) (string, error) {
	args := m.Called(ctx, alert)
	return args.String(0), args.Error(1)
}

func (m *MockStores) asStores() Stores {
	return Stores{Vitals: m, Devices: m, Alerts: m, Cache: m}
}

// MockNotifier 记录推送调用
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyVitalReading(reading *models.VitalReading) {
	m.Called(reading)
}

func (m *MockNotifier) NotifyAlert(alert *models.Alert) {
	m.Called(alert)
}

func (m *MockNotifier) NotifyPatientStatus(status *models.PatientStatus) {
	m.Called(status)
}

// fakeBroker 可编排连接结果的 broker
type fakeBroker struct {
	mu           sync.Mutex
	connectFn    func(call int) error
	connectCalls int
	subscribed   []string
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	disconnects  int
	lost         chan error
}

func newFakeBroker(connectFn func(call int) error) *fakeBroker {
	return &fakeBroker{
		connectFn: connectFn,
		handlers:  make(map[string]mqttcommon.MessageHandler),
		lost:      make(chan error, 1),
	}
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connectCalls++
	call := b.connectCalls
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return b.connectFn(call)
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, topic)
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
}

func (b *fakeBroker) ConnectionLost() <-chan error {
	return b.lost
}

func (b *fakeBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectCalls
}

func (b *fakeBroker) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribed)
}

// deliver 模拟 broker 回调
func (b *fakeBroker) deliver(pattern, topic string, payload []byte) error {
	b.mu.Lock()
	handler := b.handlers[pattern]
	b.mu.Unlock()
	return handler(topic, payload)
}
