package logs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
)

// Protocol event types
const (
	EventRequest  = "request"
	EventResponse = "response"
	EventError    = "error"
)

// ProtocolEvent is one recorded exchange between the console and a server
type ProtocolEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`      // "request", "response", "error"
	Direction   string                 `json:"direction"` // "outgoing", "incoming", "internal"
	ServerID    string                 `json:"server_id"`
	Method      string                 `json:"method"`
	Headers     map[string]interface{} `json:"headers,omitempty"`
	Payload     interface{}            `json:"payload,omitempty"`
	PayloadSize int                    `json:"payload_size,omitempty"`
	Truncated   bool                   `json:"truncated,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Duration    string                 `json:"duration,omitempty"`
	RequestID   string                 `json:"request_id"`
}

// ProtocolLog keeps recent protocol traffic in memory for the protocol
// inspector and optionally mirrors it to a rotating JSON file.
type ProtocolLog struct {
	mu        sync.Mutex
	events    []ProtocolEvent
	capacity  int
	logger    *zap.Logger // nil when file output is disabled
	config    *config.ProtocolLogConfig
	sensitive *regexp.Regexp
}

// NewProtocolLog creates a protocol log from the logging configuration
func NewProtocolLog(logConfig *config.LogConfig) (*ProtocolLog, error) {
	protoConfig := config.DefaultConfig().Logging.Protocol
	if logConfig != nil && logConfig.Protocol != nil {
		protoConfig = logConfig.Protocol
	}

	capacity := protoConfig.BufferSize
	if capacity <= 0 {
		capacity = 500
	}

	pl := &ProtocolLog{
		capacity: capacity,
		config:   protoConfig,
	}

	if protoConfig.FilterSensitive {
		pl.sensitive = regexp.MustCompile(`(?i)(password|secret|key|token|authorization|auth|credential|private|api_key|api-key|bearer|jwt)`)
	}

	if protoConfig.Enabled && logConfig != nil {
		fileLogConfig := &config.LogConfig{
			Level:      logConfig.Level,
			EnableFile: true,
			Filename:   protoConfig.Filename,
			LogDir:     logConfig.LogDir,
			MaxSize:    logConfig.MaxSize,
			MaxBackups: logConfig.MaxBackups,
			MaxAge:     logConfig.MaxAge,
			Compress:   logConfig.Compress,
			JSONFormat: true, // protocol logs are always JSON
		}
		fileCore, err := createFileCore(fileLogConfig, zap.DebugLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create protocol log file core: %w", err)
		}
		pl.logger = zap.New(fileCore)
	}

	return pl, nil
}

// LogRequest records an outgoing request and returns its request id
func (pl *ProtocolLog) LogRequest(serverID, method string, payload interface{}, headers map[string]interface{}) string {
	requestID := uuid.NewString()
	event := ProtocolEvent{
		Timestamp: time.Now(),
		Type:      EventRequest,
		Direction: "outgoing",
		ServerID:  serverID,
		Method:    method,
		RequestID: requestID,
	}
	pl.addPayloadAndHeaders(&event, payload, headers)
	pl.record(event)
	return requestID
}

// LogResponse records the response to a previously logged request
func (pl *ProtocolLog) LogResponse(serverID, method string, payload interface{}, duration time.Duration, requestID string) {
	event := ProtocolEvent{
		Timestamp: time.Now(),
		Type:      EventResponse,
		Direction: "incoming",
		ServerID:  serverID,
		Method:    method,
		Duration:  duration.String(),
		RequestID: requestID,
	}
	pl.addPayloadAndHeaders(&event, payload, nil)
	pl.record(event)
}

// LogError records a failed request
func (pl *ProtocolLog) LogError(serverID, method string, err error, duration time.Duration, requestID string) {
	event := ProtocolEvent{
		Timestamp: time.Now(),
		Type:      EventError,
		Direction: "internal",
		ServerID:  serverID,
		Method:    method,
		Duration:  duration.String(),
		RequestID: requestID,
	}
	if err != nil {
		event.Error = err.Error()
	}
	pl.record(event)
}

// Recent returns up to limit of the newest events, oldest first. An empty
// serverID returns events for all servers.
func (pl *ProtocolLog) Recent(serverID string, limit int) []ProtocolEvent {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	result := make([]ProtocolEvent, 0, len(pl.events))
	for i := len(pl.events) - 1; i >= 0; i-- {
		if serverID != "" && pl.events[i].ServerID != serverID {
			continue
		}
		result = append(result, pl.events[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

func (pl *ProtocolLog) record(event ProtocolEvent) {
	pl.mu.Lock()
	if len(pl.events) >= pl.capacity {
		copy(pl.events, pl.events[1:])
		pl.events = pl.events[:len(pl.events)-1]
	}
	pl.events = append(pl.events, event)
	pl.mu.Unlock()

	if pl.logger != nil {
		pl.logger.Info("protocol_event",
			zap.String("type", event.Type),
			zap.String("direction", event.Direction),
			zap.String("server_id", event.ServerID),
			zap.String("method", event.Method),
			zap.Any("headers", event.Headers),
			zap.Any("payload", event.Payload),
			zap.Int("payload_size", event.PayloadSize),
			zap.Bool("truncated", event.Truncated),
			zap.String("error", event.Error),
			zap.String("duration", event.Duration),
			zap.String("request_id", event.RequestID),
		)
	}
}

// addPayloadAndHeaders adds payload and headers to the event, handling size limits and filtering
func (pl *ProtocolLog) addPayloadAndHeaders(event *ProtocolEvent, payload interface{}, headers map[string]interface{}) {
	if pl.config.IncludeHeaders && headers != nil {
		event.Headers = pl.filterSensitiveData(headers)
	}

	if !pl.config.IncludePayload || payload == nil {
		return
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		event.Payload = fmt.Sprintf("marshal_error: %v", err)
		return
	}
	event.PayloadSize = len(payloadBytes)

	if pl.config.MaxPayloadSize > 0 && event.PayloadSize > pl.config.MaxPayloadSize {
		event.Payload = fmt.Sprintf("truncated_payload: %s...", string(payloadBytes[:pl.config.MaxPayloadSize]))
		event.Truncated = true
		return
	}

	// Round-trip through JSON so filtering sees plain maps and slices
	var generic interface{}
	if err := json.Unmarshal(payloadBytes, &generic); err != nil {
		event.Payload = payload
		return
	}
	event.Payload = pl.filterRecursive(generic)
}

// filterSensitiveData removes sensitive information from headers
func (pl *ProtocolLog) filterSensitiveData(data map[string]interface{}) map[string]interface{} {
	if pl.sensitive == nil {
		return data
	}

	filtered := make(map[string]interface{}, len(data))
	for key, value := range data {
		if pl.sensitive.MatchString(key) {
			filtered[key] = "[FILTERED]"
			continue
		}
		if str, ok := value.(string); ok && pl.sensitive.MatchString(str) {
			filtered[key] = "[FILTERED]"
			continue
		}
		filtered[key] = value
	}
	return filtered
}

// filterRecursive recursively filters sensitive data in nested structures
func (pl *ProtocolLog) filterRecursive(data interface{}) interface{} {
	if pl.sensitive == nil {
		return data
	}

	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if pl.sensitive.MatchString(key) {
				filtered[key] = "[FILTERED]"
			} else {
				filtered[key] = pl.filterRecursive(value)
			}
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = pl.filterRecursive(item)
		}
		return filtered
	default:
		return v
	}
}

// Close flushes the file logger, if any
func (pl *ProtocolLog) Close() error {
	if pl.logger != nil {
		return pl.logger.Sync()
	}
	return nil
}
