package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wisefido-vitals/common/redis"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// CacheManager Redis 快速存储（只写 latest 投影，不参与决策）
//
// 键布局（前缀默认 "vitals:"）：
//
//	vitals:device:{id}:latest   最新体征 JSON（覆盖写）
//	vitals:patient:{id}:latest  患者最新体征 JSON（覆盖写）
//	vitals:device:{id}:status   设备状态 HASH（合并写）
//	vitals:patient:{id}:status  患者状态 HASH（合并写）
//	vitals:device:{id}:ecg      ECG 派生指标 JSON（覆盖写）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// DeviceLatestKey 设备最新体征键
func (c *CacheManager) DeviceLatestKey(deviceID string) string {
	return fmt.Sprintf("%sdevice:%s:latest", c.config.Cache.KeyPrefix, deviceID)
}

// PatientLatestKey 患者最新体征键
func (c *CacheManager) PatientLatestKey(patientID string) string {
	return fmt.Sprintf("%spatient:%s:latest", c.config.Cache.KeyPrefix, patientID)
}

// DeviceStatusKey 设备状态键
func (c *CacheManager) DeviceStatusKey(deviceID string) string {
	return fmt.Sprintf("%sdevice:%s:status", c.config.Cache.KeyPrefix, deviceID)
}

// PatientStatusKey 患者状态键
func (c *CacheManager) PatientStatusKey(patientID string) string {
	return fmt.Sprintf("%spatient:%s:status", c.config.Cache.KeyPrefix, patientID)
}

// EcgMetricsKey ECG 派生指标键
func (c *CacheManager) EcgMetricsKey(deviceID string) string {
	return fmt.Sprintf("%sdevice:%s:ecg", c.config.Cache.KeyPrefix, deviceID)
}

// SetLatestVitals 覆盖设备最新体征
func (c *CacheManager) SetLatestVitals(ctx context.Context, reading *models.VitalReading) error {
	return c.setJSON(ctx, c.DeviceLatestKey(reading.DeviceID), reading)
}

// SetPatientLatestVitals 覆盖患者最新体征（调用方保证 patient 已知）
func (c *CacheManager) SetPatientLatestVitals(ctx context.Context, reading *models.VitalReading) error {
	if !reading.HasKnownPatient() {
		return fmt.Errorf("patient is unknown for device %s", reading.DeviceID)
	}
	return c.setJSON(ctx, c.PatientLatestKey(reading.PatientID), reading)
}

// SetEcgMetrics 覆盖 ECG 派生指标（不包含原始数组）
func (c *CacheManager) SetEcgMetrics(ctx context.Context, metrics *models.EcgMetrics) error {
	return c.setJSON(ctx, c.EcgMetricsKey(metrics.DeviceID), metrics)
}

// MergeDeviceStatus 合并写设备状态，未提供的字段保留原值
func (c *CacheManager) MergeDeviceStatus(ctx context.Context, device *models.Device) error {
	fields := map[string]interface{}{
		"device_id": device.DeviceID,
		"last_seen": device.LastSeen.UTC().Format(time.RFC3339Nano),
	}
	if device.PatientID != nil {
		fields["patient_id"] = *device.PatientID
	}
	if device.Status != nil {
		fields["status"] = *device.Status
	}
	if device.Battery != nil {
		fields["battery"] = strconv.Itoa(*device.Battery)
	}
	if device.FirmwareVersion != nil {
		fields["firmware_version"] = *device.FirmwareVersion
	}

	return c.mergeHash(ctx, c.DeviceStatusKey(device.DeviceID), fields)
}

// MergePatientStatus 合并写患者最新状态
func (c *CacheManager) MergePatientStatus(ctx context.Context, status *models.PatientStatus) error {
	if status.PatientID == "" || status.PatientID == models.UnknownPatientID {
		return fmt.Errorf("patient is unknown")
	}

	fields := map[string]interface{}{
		"patient_id": status.PatientID,
		"device_id":  status.DeviceID,
		"updated_at": status.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if status.DeviceStatus != "" {
		fields["device_status"] = status.DeviceStatus
	}
	if status.Battery != nil {
		fields["battery"] = strconv.Itoa(*status.Battery)
	}

	return c.mergeHash(ctx, c.PatientStatusKey(status.PatientID), fields)
}

// MirrorAlert 将已持久化的报警镜像到 Redis Streams（下游通知服务消费）
func (c *CacheManager) MirrorAlert(ctx context.Context, alert *models.Alert) (string, error) {
	if c.config.Cache.AlertStream == "" {
		return "", nil
	}
	id, err := redis.PublishJSONToStream(ctx, c.redisClient, c.config.Cache.AlertStream, alert)
	if err != nil {
		return "", fmt.Errorf("failed to publish alert to stream: %w", err)
	}
	return id, nil
}

func (c *CacheManager) setJSON(ctx context.Context, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ttl := time.Duration(c.config.Cache.LatestTTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache %s: %w", key, err)
	}

	c.logger.Debug("Updated cache", zap.String("key", key))
	return nil
}

func (c *CacheManager) mergeHash(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := c.redisClient.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to merge cache %s: %w", key, err)
	}

	c.logger.Debug("Merged cache hash",
		zap.String("key", key),
		zap.Int("field_count", len(fields)),
	)
	return nil
}
