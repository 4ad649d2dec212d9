package models

import "time"

// Device 设备（对应 devices 表，每条 status 消息 upsert）
type Device struct {
	DeviceID        string    `json:"device_id" db:"device_id"`
	PatientID       *string   `json:"patient_id,omitempty" db:"patient_id"`
	LastSeen        time.Time `json:"last_seen" db:"last_seen"`
	Status          *string   `json:"status,omitempty" db:"status"`
	Battery         *int      `json:"battery,omitempty" db:"battery"`
	FirmwareVersion *string   `json:"firmware_version,omitempty" db:"firmware_version"`
}

// PatientStatus 患者最新状态（快速存储中的合并投影）
type PatientStatus struct {
	PatientID    string    `json:"patient_id"`
	DeviceID     string    `json:"device_id"`
	DeviceStatus string    `json:"device_status,omitempty"`
	Battery      *int      `json:"battery,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
