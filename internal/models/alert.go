package models

import "time"

// Alert 报警记录（对应 alerts 表）
type Alert struct {
	AlertID   string         `json:"alert_id" db:"alert_id"`
	PatientID string         `json:"patient_id" db:"patient_id"`
	DeviceID  string         `json:"device_id" db:"device_id"`
	Severity  Severity       `json:"severity" db:"severity"` // warning, critical
	Message   string         `json:"message" db:"message"`
	Vitals    VitalsSnapshot `json:"vitals" db:"vitals"` // JSONB
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	Resolved  bool           `json:"resolved" db:"resolved"`
}

// VitalsSnapshot 触发报警时的体征快照（JSONB 结构，创建后不再修改）
type VitalsSnapshot struct {
	HeartRate   *int     `json:"heart_rate,omitempty"`
	SpO2        *int     `json:"spo2,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}
