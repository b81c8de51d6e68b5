package hub

import (
	"encoding/json"
	"time"
)

// Event types carried on the hub. The wire shape is flat JSON: the type
// field is merged into the payload fields when marshaling.
const (
	TypeHello    = "hello"
	TypeStatus   = "status"
	TypeJobStart = "job_start"
	TypeProgress = "progress"
	TypeJobDone  = "job_done"
)

// Event is one hub message. Data holds the type-specific fields; keep values
// small and JSON-serializable.
type Event struct {
	Type string
	Data map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		m[k] = v
	}
	m["type"] = e.Type
	return json.Marshal(m)
}

// Hello is the greeting delivered to every new subscriber.
func Hello(now time.Time) Event {
	return Event{Type: TypeHello, Data: map[string]any{"time": now.UnixMilli()}}
}

// Status describes a session state change. qr and message are omitted when
// empty, matching the channel status wire contract.
func Status(status, qr, message string) Event {
	d := map[string]any{"status": status}
	if qr != "" {
		d["qr"] = qr
	}
	if message != "" {
		d["message"] = message
	}
	return Event{Type: TypeStatus, Data: d}
}

func JobStart(total int) Event {
	return Event{Type: TypeJobStart, Data: map[string]any{"total": total}}
}

func Progress(record any) Event {
	return Event{Type: TypeProgress, Data: map[string]any{"payload": record}}
}

func JobDone(results any) Event {
	return Event{Type: TypeJobDone, Data: map[string]any{"results": results}}
}
