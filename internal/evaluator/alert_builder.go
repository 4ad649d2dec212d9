package evaluator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

// ErrNormalReading normal 级别的读数不生成报警
var ErrNormalReading = errors.New("reading severity is normal")

// 报警文案阈值
// 注意：SpO2 文案阈值为 95，与 Classify 的 critical 阈值 90 不一致（保留原有行为）
const (
	messageHeartRateHigh   = 120
	messageHeartRateLow    = 50
	messageSpO2Low         = 95
	messageTemperatureHigh = 37.5

	fallbackAlertMessage = "Abnormal vital signs detected"
)

// AlertBuilder 报警记录构建器
type AlertBuilder struct {
	now func() time.Time
}

// NewAlertBuilder 创建报警记录构建器
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{now: time.Now}
}

// Build 由已分级的读数构建报警记录（不负责持久化和推送）
func (b *AlertBuilder) Build(reading *models.VitalReading) (*models.Alert, error) {
	if reading == nil {
		return nil, fmt.Errorf("failed to build alert: nil reading")
	}
	if reading.Severity == models.SeverityNormal || reading.Severity == "" {
		return nil, ErrNormalReading
	}

	return &models.Alert{
		AlertID:   uuid.New().String(),
		PatientID: reading.PatientID,
		DeviceID:  reading.DeviceID,
		Severity:  reading.Severity,
		Message:   BuildAlertMessage(reading),
		Vitals:    snapshotOf(reading),
		CreatedAt: b.now(),
		Resolved:  false,
	}, nil
}

// BuildAlertMessage 生成报警文案，例如 "CRITICAL ALERT: Heart rate 130 BPM, SpO2 92%"
func BuildAlertMessage(reading *models.VitalReading) string {
	var parts []string

	if hr := reading.HeartRate; hr != nil && (*hr > messageHeartRateHigh || *hr < messageHeartRateLow) {
		parts = append(parts, fmt.Sprintf("Heart rate %d BPM", *hr))
	}
	if spo2 := reading.SpO2; spo2 != nil && *spo2 < messageSpO2Low {
		parts = append(parts, fmt.Sprintf("SpO2 %d%%", *spo2))
	}
	if temp := reading.Temperature; temp != nil && *temp > messageTemperatureHigh {
		parts = append(parts, fmt.Sprintf("Temperature %s°C", formatTemperature(*temp)))
	}

	body := fallbackAlertMessage
	if len(parts) > 0 {
		body = strings.Join(parts, ", ")
	}
	return strings.ToUpper(string(reading.Severity)) + " ALERT: " + body
}

// snapshotOf 冻结触发报警时的体征值（拷贝指针指向的值）
func snapshotOf(reading *models.VitalReading) models.VitalsSnapshot {
	var s models.VitalsSnapshot
	if reading.HeartRate != nil {
		v := *reading.HeartRate
		s.HeartRate = &v
	}
	if reading.SpO2 != nil {
		v := *reading.SpO2
		s.SpO2 = &v
	}
	if reading.Temperature != nil {
		v := *reading.Temperature
		s.Temperature = &v
	}
	return s
}

func formatTemperature(t float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
}
