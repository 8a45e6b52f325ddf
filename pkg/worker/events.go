package worker

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Step names the advisory progress stages of the pipeline.
type Step string

const (
	StepInit           Step = "init"
	StepDetect         Step = "detect"
	StepCropBackend    Step = "crop-backend"
	StepCropFallback   Step = "crop-fallback"
	StepCompose        Step = "compose"
	StepEncodeDocument Step = "encode-document"
)

// ProgressFunc receives advisory progress steps. A nil ProgressFunc is
// valid and ignored.
type ProgressFunc func(step Step)

// Event is one line of worker output.
type Event struct {
	Type    string          `json:"type"` // progress | result | error
	Step    Step            `json:"step,omitempty"`
	FileID  string          `json:"file_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EventWriter serializes events as line-delimited JSON. Safe for
// concurrent use.
type EventWriter struct {
	enc *json.Encoder
	w   *bufio.Writer
	mu  sync.Mutex
}

// NewEventWriter wraps a stream in an event writer.
func NewEventWriter(writer io.Writer) *EventWriter {
	buf := bufio.NewWriter(writer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &EventWriter{enc: enc, w: buf}
}

func (e *EventWriter) flush() {
	_ = e.w.Flush()
}

// Progress emits an advisory step event.
func (e *EventWriter) Progress(step Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(Event{Type: "progress", Step: step})
	e.flush()
}

// Result emits a result event with an arbitrary payload.
func (e *EventWriter) Result(fileID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(Event{Type: "result", FileID: fileID, Payload: data})
	e.flush()
	return nil
}

// Error emits an error event.
func (e *EventWriter) Error(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(Event{Type: "error", Error: err.Error()})
	e.flush()
}
