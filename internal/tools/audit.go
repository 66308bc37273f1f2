package tools

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one normalized audit entry. Every gateway call produces
// exactly one, success or failure.
type Record struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "tool" or "error"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder persists audit records. Implementations must not fail the
// call they are recording; errors are the recorder's to log.
type Recorder interface {
	Record(rec Record)
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}

// recordContent is the canonical content payload. Field order is fixed
// and map keys marshal sorted, so equal calls produce equal content.
type recordContent struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func newRecord(tool string, args map[string]any, result json.RawMessage, callErr error, now time.Time) Record {
	content := recordContent{
		Tool:      tool,
		Args:      args,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	typ := "tool"
	if callErr != nil {
		typ = "error"
		content.Error = callErr.Error()
	} else {
		content.Result = string(result)
	}

	data, err := json.Marshal(content)
	if err != nil {
		data = []byte(`{"tool":"` + tool + `","error":"unserializable args"}`)
	}
	return Record{
		ID:        ulid.Make().String(),
		Type:      typ,
		Content:   string(data),
		Timestamp: now.UTC(),
	}
}
