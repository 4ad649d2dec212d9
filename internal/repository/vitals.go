package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// VitalsRepository 体征历史仓库（vitals / ecg_samples 只追加）
type VitalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVitalsRepository 创建体征历史仓库
func NewVitalsRepository(db *sql.DB, logger *zap.Logger) *VitalsRepository {
	return &VitalsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertVitalReading 写入一条体征读数
func (r *VitalsRepository) InsertVitalReading(ctx context.Context, reading *models.VitalReading) error {
	if reading == nil {
		return fmt.Errorf("reading is required")
	}
	if reading.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO vitals (
			device_id,
			patient_id,
			heart_rate,
			spo2,
			temperature,
			battery,
			signal_strength,
			severity,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.DeviceID,
		reading.PatientID,
		reading.HeartRate,
		reading.SpO2,
		reading.Temperature,
		reading.Battery,
		reading.SignalStrength,
		string(reading.Severity),
		reading.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vital reading: %w", err)
	}

	return nil
}

// InsertEcgSample 写入完整 ECG 采样数组
func (r *VitalsRepository) InsertEcgSample(ctx context.Context, sample *models.EcgSample) error {
	if sample == nil {
		return fmt.Errorf("sample is required")
	}
	if sample.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	values := sample.Values
	if values == nil {
		values = []float64{}
	}

	var signalQuality sql.NullString
	if sample.SignalQuality != "" {
		signalQuality = sql.NullString{String: sample.SignalQuality, Valid: true}
	}

	query := `
		INSERT INTO ecg_samples (
			device_id,
			patient_id,
			ecg_values,
			heart_rate,
			signal_quality,
			sampling_rate,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		sample.DeviceID,
		sample.PatientID,
		pq.Array(values),
		sample.HeartRate,
		signalQuality,
		sample.SamplingRate,
		sample.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ecg sample: %w", err)
	}

	return nil
}
