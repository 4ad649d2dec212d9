package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType 推送消息类型
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventVitalReading          EventType = "vital_reading"
	EventCriticalAlert         EventType = "critical_alert"
	EventPatientStatusChange   EventType = "patient_status_change"
	EventAssignmentUpdated     EventType = "assignment_updated"
	EventAlertAcknowledged     EventType = "alert_acknowledged"
	EventPong                  EventType = "pong"
	EventError                 EventType = "error"
)

// 客户端控制消息类型
const (
	ControlAcknowledgeAlert = "acknowledge_alert"
	ControlPing             = "ping"
)

// Envelope 服务端 → 客户端消息
type Envelope struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope 创建消息
func NewEnvelope(eventType EventType, data interface{}) Envelope {
	return Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal 序列化（广播前在服务端完整组装）
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// ControlMessage 客户端 → 服务端控制消息
type ControlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AcknowledgeAlertRequest acknowledge_alert 的 data
type AcknowledgeAlertRequest struct {
	AlertID   string `json:"alertId"`
	PatientID string `json:"patientId"`
}

// ConnectionEstablished connection_established 的 data
type ConnectionEstablished struct {
	User     UserInfo `json:"user"`
	Patients []string `json:"patients"`
}

// UserInfo 连接用户
type UserInfo struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// AlertAcknowledged alert_acknowledged 的 data
type AlertAcknowledged struct {
	AlertID        string    `json:"alertId"`
	PatientID      string    `json:"patientId"`
	AcknowledgedBy UserInfo  `json:"acknowledgedBy"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
}

// ErrorMessage error 的 data
type ErrorMessage struct {
	Message string `json:"message"`
}
