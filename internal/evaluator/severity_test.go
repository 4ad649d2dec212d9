package evaluator

import (
	"testing"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int {
	return &i
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		hr       *int
		spo2     *int
		temp     *float64
		expected models.Severity
	}{
		{"heart rate 121 is critical", intPtr(121), nil, nil, models.SeverityCritical},
		{"heart rate 49 is critical", intPtr(49), nil, nil, models.SeverityCritical},
		{"heart rate 110 is warning", intPtr(110), nil, nil, models.SeverityWarning},
		{"heart rate 55 is warning", intPtr(55), nil, nil, models.SeverityWarning},
		{"heart rate 120 is warning (boundary)", intPtr(120), nil, nil, models.SeverityWarning},
		{"heart rate 100 is normal (boundary)", intPtr(100), intPtr(98), floatPtr(36.9), models.SeverityNormal},
		{"all normal", intPtr(80), intPtr(98), floatPtr(36.9), models.SeverityNormal},
		{"spo2 89 critical regardless of others", intPtr(80), intPtr(89), floatPtr(36.9), models.SeverityCritical},
		{"spo2 92 is warning", intPtr(80), intPtr(92), floatPtr(36.9), models.SeverityWarning},
		{"spo2 90 is warning (boundary)", nil, intPtr(90), nil, models.SeverityWarning},
		{"temperature 38.6 is critical", nil, nil, floatPtr(38.6), models.SeverityCritical},
		{"temperature 37.8 is warning", nil, nil, floatPtr(37.8), models.SeverityWarning},
		{"temperature 37.5 is normal (boundary)", nil, nil, floatPtr(37.5), models.SeverityNormal},
		{"critical wins over warning", intPtr(110), intPtr(85), nil, models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.hr, tt.spo2, tt.temp))
		})
	}
}

// 缺失字段不会越限（fail-open）：全部为 nil 时返回 normal
func TestClassify_MissingFieldsFailOpen(t *testing.T) {
	assert.Equal(t, models.SeverityNormal, Classify(nil, nil, nil))
	assert.Equal(t, models.SeverityNormal, Classify(intPtr(80), nil, nil))
	assert.Equal(t, models.SeverityNormal, Classify(nil, nil, floatPtr(36.5)))
}

// 网格上逐点对照阈值表：critical 条件命中时绝不会降为 warning
func TestClassify_ThresholdGrid(t *testing.T) {
	for hr := 30; hr <= 150; hr += 5 {
		for spo2 := 80; spo2 <= 100; spo2 += 2 {
			for _, temp := range []float64{36.0, 37.5, 37.6, 38.5, 38.6} {
				critical := hr > 120 || hr < 50 || spo2 < 90 || temp > 38.5
				warning := hr > 100 || hr < 60 || spo2 < 95 || temp > 37.5

				want := models.SeverityNormal
				switch {
				case critical:
					want = models.SeverityCritical
				case warning:
					want = models.SeverityWarning
				}

				got := Classify(intPtr(hr), intPtr(spo2), floatPtr(temp))
				assert.Equal(t, want, got, "hr=%d spo2=%d temp=%v", hr, spo2, temp)
			}
		}
	}
}

func TestClassify_Boundaries(t *testing.T) {
	assert.Equal(t, models.SeverityWarning, Classify(intPtr(50), nil, nil))
	assert.Equal(t, models.SeverityNormal, Classify(intPtr(60), nil, nil))
	assert.Equal(t, models.SeverityWarning, Classify(intPtr(59), nil, nil))
	assert.Equal(t, models.SeverityWarning, Classify(intPtr(101), nil, nil))
	assert.Equal(t, models.SeverityNormal, Classify(nil, intPtr(95), nil))
	assert.Equal(t, models.SeverityWarning, Classify(nil, intPtr(94), nil))
	assert.Equal(t, models.SeverityWarning, Classify(nil, nil, floatPtr(38.5)))
}

func TestEstimateEcgHeartRate(t *testing.T) {
	assert.Equal(t, 0, EstimateEcgHeartRate(nil))
	// mean(|x|) = 0.5 → 0.5*60+40 = 70
	assert.Equal(t, 70, EstimateEcgHeartRate([]float64{0.5, -0.5, 0.25, -0.75}))
	assert.Equal(t, 100, EstimateEcgHeartRate([]float64{1, -1, 1, -1}))
}

func TestEstimateSignalQuality(t *testing.T) {
	assert.Equal(t, models.SignalQualityPoor, EstimateSignalQuality(nil))
	assert.Equal(t, models.SignalQualityGood, EstimateSignalQuality([]float64{0.1, 0.12, 0.09, 0.11}))
	// variance = 0.25
	assert.Equal(t, models.SignalQualityFair, EstimateSignalQuality([]float64{0.5, -0.5, 0.5, -0.5}))
	// variance = 1
	assert.Equal(t, models.SignalQualityPoor, EstimateSignalQuality([]float64{1, -1, 1, -1}))
}
