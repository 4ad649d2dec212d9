package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// IngestionStatus 摄取客户端状态
type IngestionStatus interface {
	State() consumer.State
	Attempts() int
}

// HubStats 连接统计
type HubStats interface {
	ClientCount() int
	RoomCount() int
}

// EventNotifier 内部接口触发的推送
type EventNotifier interface {
	NotifyPatientStatus(status *models.PatientStatus)
	NotifyAssignmentUpdated(doctorID string, data interface{}) int
}

// StatusStore 患者状态合并写入（可为 nil）
type StatusStore interface {
	MergePatientStatus(ctx context.Context, status *models.PatientStatus) error
}

// HealthResponse GET /healthz
type HealthResponse struct {
	Status            string         `json:"status"`
	Ingestion         consumer.State `json:"ingestion"`
	ReconnectAttempts int            `json:"reconnectAttempts"`
	Clients           int            `json:"clients"`
	Rooms             int            `json:"rooms"`
	Time              string         `json:"time"`
}

// PatientStatusRequest POST /internal/v1/patients/{id}/status
type PatientStatusRequest struct {
	DeviceID     string `json:"deviceId"`
	DeviceStatus string `json:"deviceStatus"`
	Battery      *int   `json:"battery"`
}

// Handlers HTTP 处理器
type Handlers struct {
	ingestion    IngestionStatus
	hub          HubStats
	notifier     EventNotifier
	statusStore  StatusStore
	storeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewHandlers 创建处理器
func NewHandlers(
	ingestion IngestionStatus,
	hub HubStats,
	notifier EventNotifier,
	statusStore StatusStore,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *Handlers {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Handlers{
		ingestion:    ingestion,
		hub:          hub,
		notifier:     notifier,
		statusStore:  statusStore,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Health 摄取已停止时返回 503，重连中返回 degraded
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	state := h.ingestion.State()
	resp := HealthResponse{
		Status:            "ok",
		Ingestion:         state,
		ReconnectAttempts: h.ingestion.Attempts(),
		Clients:           h.hub.ClientCount(),
		Rooms:             h.hub.RoomCount(),
		Time:              h.now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	switch state {
	case consumer.StateConnected:
	case consumer.StateStopped:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	default:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

// PatientStatus 外部触发患者状态变更：合并到快速存储并推送 patient_status_change
func (h *Handlers) PatientStatus(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(chi.URLParam(r, "id"))
	if patientID == "" || patientID == models.UnknownPatientID {
		writeJSON(w, http.StatusBadRequest, Fail("patient id is required"))
		return
	}

	var req PatientStatusRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.DeviceStatus == "" && req.Battery == nil {
		writeJSON(w, http.StatusBadRequest, Fail("deviceStatus or battery is required"))
		return
	}

	status := &models.PatientStatus{
		PatientID:    patientID,
		DeviceID:     req.DeviceID,
		DeviceStatus: req.DeviceStatus,
		Battery:      req.Battery,
		UpdatedAt:    h.now(),
	}

	if h.statusStore != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
		err := h.statusStore.MergePatientStatus(ctx, status)
		cancel()
		if err != nil {
			// 推送不依赖快速存储
			h.logger.Error("Failed to merge patient status",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}

	h.notifier.NotifyPatientStatus(status)
	writeJSON(w, http.StatusAccepted, Ok(map[string]string{"patientId": patientID}))
}

// AssignmentUpdated 医生分配变更通知，推送到医生自己的房间
func (h *Handlers) AssignmentUpdated(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(chi.URLParam(r, "id"))
	if doctorID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("doctor id is required"))
		return
	}

	var data map[string]json.RawMessage
	if err := readBodyJSON(r, maxBodyBytes, &data); err != nil || data == nil {
		writeJSON(w, http.StatusBadRequest, Fail("request body must be a JSON object"))
		return
	}

	delivered := h.notifier.NotifyAssignmentUpdated(doctorID, data)
	h.logger.Info("Assignment update pushed",
		zap.String("doctor_id", doctorID),
		zap.Int("delivered", delivered),
	)
	writeJSON(w, http.StatusOK, Ok(map[string]int{"delivered": delivered}))
}
