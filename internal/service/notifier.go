package service

import (
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/websocket"

	"go.uber.org/zap"
)

// VitalReadingEvent vital_reading 推送内容
type VitalReadingEvent struct {
	DeviceID    string          `json:"deviceId"`
	PatientID   string          `json:"patientId"`
	HeartRate   *int            `json:"heartRate,omitempty"`
	SpO2        *int            `json:"spO2,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Battery     *int            `json:"battery,omitempty"`
	Severity    models.Severity `json:"severity"`
	Timestamp   string          `json:"timestamp"`
}

// AlertEvent critical_alert 推送内容（warning 级别同样走该事件，由 severity 区分）
type AlertEvent struct {
	AlertID   string                `json:"alertId"`
	PatientID string                `json:"patientId"`
	DeviceID  string                `json:"deviceId"`
	Severity  models.Severity       `json:"severity"`
	Message   string                `json:"message"`
	Vitals    models.VitalsSnapshot `json:"vitals"`
	CreatedAt string                `json:"createdAt"`
}

// PatientStatusEvent patient_status_change 推送内容
type PatientStatusEvent struct {
	PatientID    string `json:"patientId"`
	DeviceID     string `json:"deviceId,omitempty"`
	DeviceStatus string `json:"deviceStatus,omitempty"`
	Battery      *int   `json:"battery,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// AlertSink 报警的额外下游（如 webhook），必须非阻塞
type AlertSink interface {
	NotifyAlert(alert *models.Alert)
}

// HubNotifier 把摄取结果转成推送事件，发到患者房间
type HubNotifier struct {
	hub    *websocket.Hub
	sinks  []AlertSink
	logger *zap.Logger
}

// NewHubNotifier 创建推送器
func NewHubNotifier(hub *websocket.Hub, logger *zap.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

// AddAlertSink 追加报警下游，需在摄取启动前调用
func (n *HubNotifier) AddAlertSink(sink AlertSink) {
	n.sinks = append(n.sinks, sink)
}

// NotifyVitalReading 推送 vital_reading
func (n *HubNotifier) NotifyVitalReading(reading *models.VitalReading) {
	delivered := n.hub.BroadcastToPatient(reading.PatientID, websocket.NewEnvelope(websocket.EventVitalReading, VitalReadingEvent{
		DeviceID:    reading.DeviceID,
		PatientID:   reading.PatientID,
		HeartRate:   reading.HeartRate,
		SpO2:        reading.SpO2,
		Temperature: reading.Temperature,
		Battery:     reading.Battery,
		Severity:    reading.Severity,
		Timestamp:   reading.Timestamp.UTC().Format(eventTimeLayout),
	}))

	n.logger.Debug("Vital reading pushed",
		zap.String("patient_id", reading.PatientID),
		zap.Int("delivered", delivered),
	)
}

// NotifyAlert 推送 critical_alert
func (n *HubNotifier) NotifyAlert(alert *models.Alert) {
	delivered := n.hub.BroadcastToPatient(alert.PatientID, websocket.NewEnvelope(websocket.EventCriticalAlert, AlertEvent{
		AlertID:   alert.AlertID,
		PatientID: alert.PatientID,
		DeviceID:  alert.DeviceID,
		Severity:  alert.Severity,
		Message:   alert.Message,
		Vitals:    alert.Vitals,
		CreatedAt: alert.CreatedAt.UTC().Format(eventTimeLayout),
	}))

	n.logger.Info("Alert pushed",
		zap.String("alert_id", alert.AlertID),
		zap.String("patient_id", alert.PatientID),
		zap.String("severity", string(alert.Severity)),
		zap.Int("delivered", delivered),
	)

	for _, sink := range n.sinks {
		sink.NotifyAlert(alert)
	}
}

// NotifyPatientStatus 推送 patient_status_change
func (n *HubNotifier) NotifyPatientStatus(status *models.PatientStatus) {
	n.hub.BroadcastToPatient(status.PatientID, websocket.NewEnvelope(websocket.EventPatientStatusChange, PatientStatusEvent{
		PatientID:    status.PatientID,
		DeviceID:     status.DeviceID,
		DeviceStatus: status.DeviceStatus,
		Battery:      status.Battery,
		UpdatedAt:    status.UpdatedAt.UTC().Format(eventTimeLayout),
	}))
}

// NotifyAssignmentUpdated 推送 assignment_updated 到医生自己的房间
// 只是通知，已建立连接的授权患者集合不变，需要客户端重连后生效
func (n *HubNotifier) NotifyAssignmentUpdated(doctorID string, data interface{}) int {
	return n.hub.BroadcastToDoctor(doctorID, websocket.NewEnvelope(websocket.EventAssignmentUpdated, data))
}
