package dispatch

import "log/slog"

// Envelope is the wire shape every sink emits.
type Envelope struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
}

// LogSink is the fallback sink for local runs: events go to the log.
type LogSink struct {
	Logger *slog.Logger
}

func (l *LogSink) Notify(requestID, kind string, payload any) {
	l.Logger.Info("lifecycle event", "request_id", requestID, "kind", kind, "payload", payload)
}

// Fanout forwards every event to each wrapped sink.
type Fanout []interface {
	Notify(requestID, kind string, payload any)
}

func (f Fanout) Notify(requestID, kind string, payload any) {
	for _, s := range f {
		s.Notify(requestID, kind, payload)
	}
}
