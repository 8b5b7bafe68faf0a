package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HTTPPushSink posts events to an external notification service (the mobile
// push backend). Best-effort: delivery failures are logged, never surfaced.
type HTTPPushSink struct {
	Endpoint string
	Token    string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewHTTPPushSink(endpoint, token string, logger *slog.Logger) *HTTPPushSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPushSink{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (p *HTTPPushSink) Notify(requestID, kind string, payload any) {
	b, err := json.Marshal(Envelope{RequestID: requestID, Kind: kind, Payload: payload})
	if err != nil {
		p.Logger.Warn("push marshal failed", "request_id", requestID, "error", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		p.Logger.Warn("push request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		p.Logger.Warn("push delivery failed", "request_id", requestID, "error", err)
		return
	}
	resp.Body.Close()
}
