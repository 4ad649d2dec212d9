package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDevice 插入或更新设备
// 合并语义：为 NULL 的字段保留原值，last_seen 总是更新
func (r *DeviceRepository) UpsertDevice(ctx context.Context, device *models.Device) error {
	if device == nil || device.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO devices (
			device_id,
			patient_id,
			last_seen,
			status,
			battery,
			firmware_version
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			patient_id       = COALESCE(EXCLUDED.patient_id, devices.patient_id),
			last_seen        = EXCLUDED.last_seen,
			status           = COALESCE(EXCLUDED.status, devices.status),
			battery          = COALESCE(EXCLUDED.battery, devices.battery),
			firmware_version = COALESCE(EXCLUDED.firmware_version, devices.firmware_version)
	`

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		device.PatientID,
		device.LastSeen,
		device.Status,
		device.Battery,
		device.FirmwareVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	r.logger.Debug("Device upserted",
		zap.String("device_id", device.DeviceID),
	)
	return nil
}
