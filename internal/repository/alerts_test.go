package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockAlertsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewAlertRepository(db, zap.NewNop())
}

func TestInsertAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	alertID := uuid.New().String()
	createdAt := time.Now()
	alert := &models.Alert{
		AlertID:   alertID,
		PatientID: "P1",
		DeviceID:  "D1",
		Severity:  models.SeverityCritical,
		Message:   "CRITICAL ALERT: Heart rate 130 BPM",
		Vitals: models.VitalsSnapshot{
			HeartRate: intPtr(130),
			SpO2:      intPtr(96),
		},
		CreatedAt: createdAt,
	}

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(alertID, "P1", "D1", "critical", "CRITICAL ALERT: Heart rate 130 BPM",
			`{"heart_rate":130,"spo2":96}`, createdAt, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.InsertAlert(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAlert_Validation(t *testing.T) {
	db, _, repo := setupMockAlertsDB(t)
	defer db.Close()

	assert.Error(t, repo.InsertAlert(context.Background(), nil))
	assert.Error(t, repo.InsertAlert(context.Background(), &models.Alert{}))
}

func TestGetAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	alertID := uuid.New().String()
	createdAt := time.Now()
	rows := sqlmock.NewRows([]string{
		"alert_id", "patient_id", "device_id", "severity", "message", "vitals", "created_at", "resolved",
	}).AddRow(alertID, "P1", "D1", "warning", "WARNING ALERT: SpO2 92%", []byte(`{"spo2":92}`), createdAt, false)

	mock.ExpectQuery(`SELECT .* FROM alerts`).
		WithArgs(alertID).
		WillReturnRows(rows)

	alert, err := repo.GetAlert(context.Background(), alertID)
	require.NoError(t, err)
	assert.Equal(t, "P1", alert.PatientID)
	assert.Equal(t, models.SeverityWarning, alert.Severity)
	assert.Equal(t, intPtr(92), alert.Vitals.SpO2)
	assert.Nil(t, alert.Vitals.HeartRate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlert_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	alert, err := repo.GetAlert(context.Background(), "missing")
	assert.Error(t, err)
	assert.Nil(t, alert)
	assert.Contains(t, err.Error(), "not found")
}
