package evaluator

import (
	"math"

	"wisefido-vitals/internal/models"
)

// ECG 派生参数
const (
	ecgHeartRateScale  = 60.0
	ecgHeartRateOffset = 40.0

	ecgNoiseGood = 0.1
	ecgNoiseFair = 0.5
)

// EstimateEcgHeartRate 由平均绝对幅值估算心率（缩放 + 偏移）
func EstimateEcgHeartRate(values []float64) int {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += math.Abs(v)
	}
	mean := sum / float64(len(values))
	return int(math.Round(mean*ecgHeartRateScale + ecgHeartRateOffset))
}

// EstimateSignalQuality 以方差作为噪声估计，按阈值划分 good/fair/poor
func EstimateSignalQuality(values []float64) string {
	if len(values) == 0 {
		return models.SignalQualityPoor
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	switch {
	case variance < ecgNoiseGood:
		return models.SignalQualityGood
	case variance < ecgNoiseFair:
		return models.SignalQualityFair
	default:
		return models.SignalQualityPoor
	}
}
