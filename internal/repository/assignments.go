package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// AssignmentRepository 患者分配关系（只读）
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository 创建分配关系仓库
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) *AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// ListDoctorPatientIDs 查询医生负责的患者
func (r *AssignmentRepository) ListDoctorPatientIDs(ctx context.Context, doctorID string) ([]string, error) {
	if doctorID == "" {
		return nil, fmt.Errorf("doctor_id is required")
	}

	query := `
		SELECT patient_id
		FROM doctor_patients
		WHERE doctor_id = $1
		ORDER BY patient_id
	`
	ids, err := r.queryIDs(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctor patients: %w", err)
	}
	return ids, nil
}

// ListActiveFamilyPatientIDs 查询家属可查看的患者（仅 status = 'active'）
func (r *AssignmentRepository) ListActiveFamilyPatientIDs(ctx context.Context, familyID string) ([]string, error) {
	if familyID == "" {
		return nil, fmt.Errorf("family_id is required")
	}

	query := `
		SELECT patient_id
		FROM family_patients
		WHERE family_id = $1
		  AND status = 'active'
		ORDER BY patient_id
	`
	ids, err := r.queryIDs(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family patients: %w", err)
	}
	return ids, nil
}

func (r *AssignmentRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
