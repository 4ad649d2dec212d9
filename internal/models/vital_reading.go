package models

import "time"

// Severity 临床严重级别
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// UnknownPatientID 设备未绑定患者时使用的占位 ID
const UnknownPatientID = "unknown"

// VitalReading 生命体征读数（对应 vitals 表，只追加）
type VitalReading struct {
	DeviceID       string    `json:"device_id" db:"device_id"`
	PatientID      string    `json:"patient_id" db:"patient_id"`
	HeartRate      *int      `json:"heart_rate,omitempty" db:"heart_rate"`
	SpO2           *int      `json:"spo2,omitempty" db:"spo2"`
	Temperature    *float64  `json:"temperature,omitempty" db:"temperature"`
	Battery        *int      `json:"battery,omitempty" db:"battery"`
	SignalStrength *int      `json:"signal_strength,omitempty" db:"signal_strength"`
	Severity       Severity  `json:"severity" db:"severity"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// HasKnownPatient 读数是否关联到已知患者
func (v *VitalReading) HasKnownPatient() bool {
	return v.PatientID != "" && v.PatientID != UnknownPatientID
}

// EcgSample ECG 原始采样（完整数组只进入 PostgreSQL）
type EcgSample struct {
	DeviceID      string    `json:"device_id" db:"device_id"`
	PatientID     string    `json:"patient_id" db:"patient_id"`
	Values        []float64 `json:"ecg_values" db:"ecg_values"`
	HeartRate     *int      `json:"heart_rate,omitempty" db:"heart_rate"`
	SignalQuality string    `json:"signal_quality,omitempty" db:"signal_quality"`
	SamplingRate  int       `json:"sampling_rate" db:"sampling_rate"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// EcgMetrics ECG 派生指标（写入快速存储的投影）
type EcgMetrics struct {
	DeviceID      string    `json:"device_id"`
	PatientID     string    `json:"patient_id"`
	HeartRate     int       `json:"heart_rate"`
	SignalQuality string    `json:"signal_quality"`
	SamplingRate  int       `json:"sampling_rate"`
	SampleCount   int       `json:"sample_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// ECG 信号质量
const (
	SignalQualityGood = "good"
	SignalQualityFair = "fair"
	SignalQualityPoor = "poor"
)
