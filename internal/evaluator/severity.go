package evaluator

import "wisefido-vitals/internal/models"

// 分级阈值（critical 优先判断）
const (
	CriticalHeartRateHigh   = 120
	CriticalHeartRateLow    = 50
	CriticalSpO2Low         = 90
	CriticalTemperatureHigh = 38.5

	WarningHeartRateHigh   = 100
	WarningHeartRateLow    = 60
	WarningSpO2Low         = 95
	WarningTemperatureHigh = 37.5
)

// Classify 根据心率/血氧/体温计算严重级别
//
// 缺失字段（nil）视为未越限：单独一个 nil 的 SpO2 不会触发 warning/critical。
func Classify(heartRate *int, spo2 *int, temperature *float64) models.Severity {
	if isCritical(heartRate, spo2, temperature) {
		return models.SeverityCritical
	}
	if isWarning(heartRate, spo2, temperature) {
		return models.SeverityWarning
	}
	return models.SeverityNormal
}

func isCritical(hr *int, spo2 *int, temp *float64) bool {
	if hr != nil && (*hr > CriticalHeartRateHigh || *hr < CriticalHeartRateLow) {
		return true
	}
	if spo2 != nil && *spo2 < CriticalSpO2Low {
		return true
	}
	if temp != nil && *temp > CriticalTemperatureHigh {
		return true
	}
	return false
}

func isWarning(hr *int, spo2 *int, temp *float64) bool {
	if hr != nil && (*hr > WarningHeartRateHigh || *hr < WarningHeartRateLow) {
		return true
	}
	if spo2 != nil && *spo2 < WarningSpO2Low {
		return true
	}
	if temp != nil && *temp > WarningTemperatureHigh {
		return true
	}
	return false
}
