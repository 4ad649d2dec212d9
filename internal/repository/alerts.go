package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// AlertRepository 报警仓库
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// InsertAlert 写入报警记录（vitals 快照存为 JSONB）
func (r *AlertRepository) InsertAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	vitalsJSON, err := json.Marshal(alert.Vitals)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals snapshot: %w", err)
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			patient_id,
			device_id,
			severity,
			message,
			vitals,
			created_at,
			resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.PatientID,
		alert.DeviceID,
		string(alert.Severity),
		alert.Message,
		string(vitalsJSON),
		alert.CreatedAt,
		alert.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	r.logger.Info("Alert inserted",
		zap.String("alert_id", alert.AlertID),
		zap.String("patient_id", alert.PatientID),
		zap.String("severity", string(alert.Severity)),
	)
	return nil
}

// GetAlert 根据 alert_id 查询报警（用于确认前校验患者归属）
func (r *AlertRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			alert_id,
			patient_id,
			device_id,
			severity,
			message,
			vitals,
			created_at,
			resolved
		FROM alerts
		WHERE alert_id = $1
	`

	var alert models.Alert
	var severity string
	var vitals []byte
	err := r.db.QueryRowContext(ctx, query, alertID).Scan(
		&alert.AlertID,
		&alert.PatientID,
		&alert.DeviceID,
		&severity,
		&alert.Message,
		&vitals,
		&alert.CreatedAt,
		&alert.Resolved,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert not found: %s", alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	alert.Severity = models.Severity(severity)
	if len(vitals) > 0 {
		if err := json.Unmarshal(vitals, &alert.Vitals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vitals snapshot: %w", err)
		}
	}
	return &alert, nil
}
