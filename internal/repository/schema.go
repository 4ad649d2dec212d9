package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schemaStatements 本服务写入/读取的表（按依赖顺序）
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		device_id        TEXT PRIMARY KEY,
		patient_id       TEXT,
		last_seen        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status           TEXT,
		battery          INTEGER,
		firmware_version TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS vitals (
		id              BIGSERIAL PRIMARY KEY,
		device_id       TEXT NOT NULL,
		patient_id      TEXT NOT NULL,
		heart_rate      INTEGER,
		spo2            INTEGER,
		temperature     DOUBLE PRECISION,
		battery         INTEGER,
		signal_strength INTEGER,
		severity        TEXT NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vitals_patient_ts ON vitals (patient_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS ecg_samples (
		id             BIGSERIAL PRIMARY KEY,
		device_id      TEXT NOT NULL,
		patient_id     TEXT NOT NULL,
		ecg_values     DOUBLE PRECISION[] NOT NULL,
		heart_rate     INTEGER,
		signal_quality TEXT,
		sampling_rate  INTEGER NOT NULL DEFAULT 250,
		timestamp      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id   UUID PRIMARY KEY,
		patient_id TEXT NOT NULL,
		device_id  TEXT NOT NULL,
		severity   TEXT NOT NULL CHECK (severity IN ('warning', 'critical')),
		message    TEXT NOT NULL,
		vitals     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved   BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_patient_created ON alerts (patient_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS doctor_patients (
		doctor_id  TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		PRIMARY KEY (doctor_id, patient_id)
	)`,
	`CREATE TABLE IF NOT EXISTS family_patients (
		family_id    TEXT NOT NULL,
		patient_id   TEXT NOT NULL,
		relationship TEXT,
		status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('active', 'inactive', 'pending')),
		PRIMARY KEY (family_id, patient_id)
	)`,
}

// ApplySchema 创建表和索引（幂等）
func ApplySchema(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	logger.Info("Schema applied", zap.Int("statements", len(schemaStatements)))
	return nil
}
