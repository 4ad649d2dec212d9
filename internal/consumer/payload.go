package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wisefido-vitals/internal/models"
)

var (
	// ErrMalformedMessage 消息体无法解析为已知结构
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownTopic 主题不符合 <namespace>/<deviceId>/vitals|ecg|status
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrConsumerStopped 消费者已停止（包括重连次数耗尽）
	ErrConsumerStopped = errors.New("consumer stopped")
)

// TopicKind 主题后缀
type TopicKind string

const (
	TopicVitals TopicKind = "vitals"
	TopicEcg    TopicKind = "ecg"
	TopicStatus TopicKind = "status"
)

// AllTopicKinds 每次（重）连接后需要订阅的后缀
var AllTopicKinds = []TopicKind{TopicVitals, TopicEcg, TopicStatus}

// VitalsPayload vitals 主题消息体
type VitalsPayload struct {
	PatientID      string   `json:"patientId"`
	HeartRate      *int     `json:"heartRate"`
	SpO2           *int     `json:"spO2"`
	Temperature    *float64 `json:"temperature"`
	Battery        *int     `json:"battery"`
	SignalStrength *int     `json:"signalStrength"`
}

// EcgPayload ecg 主题消息体
type EcgPayload struct {
	PatientID    string    `json:"patientId"`
	EcgValues    []float64 `json:"ecgValues"`
	SamplingRate *int      `json:"samplingRate"`
}

// StatusPayload status 主题消息体
type StatusPayload struct {
	PatientID       string  `json:"patientId"`
	Status          *string `json:"status"`
	Battery         *int    `json:"battery"`
	FirmwareVersion *string `json:"firmwareVersion"`
}

// Message 解码后的设备消息，按主题后缀区分
type Message interface {
	Kind() TopicKind
	Device() string
}

// VitalsMessage vitals 变体
type VitalsMessage struct {
	DeviceID string
	Payload  VitalsPayload
}

// EcgMessage ecg 变体
type EcgMessage struct {
	DeviceID string
	Payload  EcgPayload
}

// StatusMessage status 变体
type StatusMessage struct {
	DeviceID string
	Payload  StatusPayload
}

func (m *VitalsMessage) Kind() TopicKind { return TopicVitals }
func (m *VitalsMessage) Device() string  { return m.DeviceID }
func (m *EcgMessage) Kind() TopicKind    { return TopicEcg }
func (m *EcgMessage) Device() string     { return m.DeviceID }
func (m *StatusMessage) Kind() TopicKind { return TopicStatus }
func (m *StatusMessage) Device() string  { return m.DeviceID }

// Decoder 主题 + 消息体解码器
type Decoder struct {
	namespace           string
	defaultSamplingRate int
}

// NewDecoder 创建解码器
func NewDecoder(namespace string, defaultSamplingRate int) *Decoder {
	if defaultSamplingRate <= 0 {
		defaultSamplingRate = 250
	}
	return &Decoder{
		namespace:           namespace,
		defaultSamplingRate: defaultSamplingRate,
	}
}

// ParseTopic 从主题中提取设备 ID 和后缀
// 主题格式: <namespace>/<device_id>/<kind>
func (d *Decoder) ParseTopic(topic string) (string, TopicKind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != d.namespace {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if parts[1] == "" {
		return "", "", fmt.Errorf("%w: empty device id in topic %s", ErrMalformedMessage, topic)
	}

	kind := TopicKind(parts[2])
	switch kind {
	case TopicVitals, TopicEcg, TopicStatus:
		return parts[1], kind, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

// Decode 解析主题并按后缀解码为对应变体
func (d *Decoder) Decode(topic string, payload []byte) (Message, error) {
	deviceID, kind, err := d.ParseTopic(topic)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}

	switch kind {
	case TopicVitals:
		var p VitalsPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if p.HeartRate == nil && p.SpO2 == nil && p.Temperature == nil {
			return nil, fmt.Errorf("%w: vitals payload has no heartRate, spO2 or temperature", ErrMalformedMessage)
		}
		p.PatientID = normalizePatientID(p.PatientID)
		return &VitalsMessage{DeviceID: deviceID, Payload: p}, nil

	case TopicEcg:
		var p EcgPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if p.SamplingRate == nil {
			rate := d.defaultSamplingRate
			p.SamplingRate = &rate
		} else if *p.SamplingRate <= 0 {
			return nil, fmt.Errorf("%w: samplingRate must be positive", ErrMalformedMessage)
		}
		p.PatientID = normalizePatientID(p.PatientID)
		return &EcgMessage{DeviceID: deviceID, Payload: p}, nil

	default:
		var p StatusPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		p.PatientID = normalizePatientID(p.PatientID)
		return &StatusMessage{DeviceID: deviceID, Payload: p}, nil
	}
}

func normalizePatientID(id string) string {
	if strings.TrimSpace(id) == "" {
		return models.UnknownPatientID
	}
	return id
}
