package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// maxTraceBody caps recorded bodies; base64 image payloads are replaced by a
// size marker beyond it.
const maxTraceBody = 16 << 10

// TraceEntry is one provider HTTP exchange.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Model       string          `json:"model,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer appends trace entries to a file as NDJSON.
type Tracer struct {
	file *os.File
	mu   sync.Mutex
}

var (
	globalTracer *Tracer
	tracerMu     sync.Mutex
)

// EnableTracing starts tracing to path and returns the function that stops
// it.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	tracerMu.Lock()
	if globalTracer != nil {
		_ = globalTracer.Close()
	}
	globalTracer = &Tracer{file: f}
	tracerMu.Unlock()

	return DisableTracing, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	if globalTracer != nil {
		_ = globalTracer.Close()
		globalTracer = nil
	}
}

// IsTracingEnabled returns true if tracing is active.
func IsTracingEnabled() bool {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	return globalTracer != nil
}

// Exchange describes a finished provider call for TraceExchange.
type Exchange struct {
	Driver     string
	Method     string
	Endpoint   string
	Model      string
	TaskID     string
	Request    []byte
	StatusCode int
	Response   []byte
	Err        error
	Started    time.Time
}

// TraceExchange records a provider call when tracing is enabled.
func TraceExchange(x Exchange) {
	if !IsTracingEnabled() {
		return
	}
	entry := TraceEntry{
		Driver:      x.Driver,
		Endpoint:    x.Endpoint,
		Method:      x.Method,
		Model:       x.Model,
		TaskID:      x.TaskID,
		RequestBody: traceBody(x.Request),
		StatusCode:  x.StatusCode,
		Response:    traceBody(x.Response),
	}
	if x.Err != nil {
		entry.Error = x.Err.Error()
	}
	if !x.Started.IsZero() {
		entry.DurationMs = time.Since(x.Started).Milliseconds()
	}
	Trace(entry)
}

// Trace records a trace entry if tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	t := globalTracer
	tracerMu.Unlock()

	if t == nil {
		return
	}
	t.Write(entry)
}

// Write records a trace entry.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.file == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.file.Write(append(data, '\n'))
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

func traceBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if len(body) > maxTraceBody || !json.Valid(body) {
		marker, _ := json.Marshal(map[string]int{"omitted_bytes": len(body)})
		return marker
	}
	return json.RawMessage(body)
}
