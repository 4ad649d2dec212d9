package consumer

import (
	"errors"
	"testing"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_ParseTopic(t *testing.T) {
	d := NewDecoder("hospital", 250)

	deviceID, kind, err := d.ParseTopic("hospital/D1/vitals")
	require.NoError(t, err)
	assert.Equal(t, "D1", deviceID)
	assert.Equal(t, TopicVitals, kind)

	_, kind, err = d.ParseTopic("hospital/D1/ecg")
	require.NoError(t, err)
	assert.Equal(t, TopicEcg, kind)

	for _, topic := range []string{"hospital/D1/unknown", "other/D1/vitals", "hospital/D1", "hospital/D1/vitals/extra"} {
		_, _, err := d.ParseTopic(topic)
		assert.True(t, errors.Is(err, ErrUnknownTopic), topic)
	}

	_, _, err = d.ParseTopic("hospital//vitals")
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestDecoder_DecodeVitals(t *testing.T) {
	d := NewDecoder("hospital", 250)

	msg, err := d.Decode("hospital/D1/vitals", []byte(`{"patientId":"P1","heartRate":130,"spO2":96,"temperature":36.8,"battery":77}`))
	require.NoError(t, err)

	vitals, ok := msg.(*VitalsMessage)
	require.True(t, ok)
	assert.Equal(t, "D1", vitals.Device())
	assert.Equal(t, TopicVitals, vitals.Kind())
	assert.Equal(t, "P1", vitals.Payload.PatientID)
	assert.Equal(t, 130, *vitals.Payload.HeartRate)
	assert.Equal(t, 96, *vitals.Payload.SpO2)
	assert.Equal(t, 36.8, *vitals.Payload.Temperature)
	assert.Equal(t, 77, *vitals.Payload.Battery)
	assert.Nil(t, vitals.Payload.SignalStrength)
}

func TestDecoder_DefaultPatientAndSamplingRate(t *testing.T) {
	d := NewDecoder("hospital", 250)

	msg, err := d.Decode("hospital/D1/vitals", []byte(`{"heartRate":80}`))
	require.NoError(t, err)
	assert.Equal(t, models.UnknownPatientID, msg.(*VitalsMessage).Payload.PatientID)

	msg, err = d.Decode("hospital/D1/ecg", []byte(`{"patientId":"P1","ecgValues":[0.1,0.2]}`))
	require.NoError(t, err)
	ecg := msg.(*EcgMessage)
	assert.Equal(t, 250, *ecg.Payload.SamplingRate)
	assert.Equal(t, []float64{0.1, 0.2}, ecg.Payload.EcgValues)

	msg, err = d.Decode("hospital/D1/ecg", []byte(`{"ecgValues":[],"samplingRate":500}`))
	require.NoError(t, err)
	assert.Equal(t, 500, *msg.(*EcgMessage).Payload.SamplingRate)
}

func TestDecoder_Status(t *testing.T) {
	d := NewDecoder("hospital", 250)

	msg, err := d.Decode("hospital/D9/status", []byte(`{"status":"online","battery":12,"firmwareVersion":"2.0.1"}`))
	require.NoError(t, err)

	status := msg.(*StatusMessage)
	assert.Equal(t, "D9", status.DeviceID)
	assert.Equal(t, models.UnknownPatientID, status.Payload.PatientID)
	assert.Equal(t, "online", *status.Payload.Status)
	assert.Equal(t, "2.0.1", *status.Payload.FirmwareVersion)
}

func TestDecoder_Malformed(t *testing.T) {
	d := NewDecoder("hospital", 250)

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not json", "hospital/D1/vitals", `heartRate=80`},
		{"json array", "hospital/D1/vitals", `[1,2,3]`},
		{"json null", "hospital/D1/status", `null`},
		{"empty", "hospital/D1/status", ``},
		{"string heart rate", "hospital/D1/vitals", `{"heartRate":"fast"}`},
		{"float heart rate", "hospital/D1/vitals", `{"heartRate":72.5}`},
		{"no vitals at all", "hospital/D1/vitals", `{"patientId":"P1","battery":50}`},
		{"ecg values not numbers", "hospital/D1/ecg", `{"ecgValues":["a"]}`},
		{"ecg zero sampling rate", "hospital/D1/ecg", `{"ecgValues":[1],"samplingRate":0}`},
		{"numeric patient id", "hospital/D1/status", `{"patientId":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := d.Decode(tt.topic, []byte(tt.payload))
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, ErrMalformedMessage), "got %v", err)
		})
	}
}
