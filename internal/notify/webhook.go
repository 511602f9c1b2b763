package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPHook posts events as JSON to an external service, retrying transient
// failures within the dispatcher's deadline.
type HTTPHook struct {
	name   string
	url    string
	kinds  map[string]struct{}
	client *retryablehttp.Client
}

// NewHTTPHook builds a hook. kinds limits which events are sent; empty means all.
func NewHTTPHook(name, url string, timeout time.Duration, kinds ...string) *HTTPHook {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = retryLogger{l: zap.L().Sugar().With("hook", name)}

	h := &HTTPHook{name: name, url: url, client: client}
	if len(kinds) > 0 {
		h.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			h.kinds[k] = struct{}{}
		}
	}
	return h
}

func (h *HTTPHook) Name() string { return h.name }

func (h *HTTPHook) Send(ctx context.Context, event Event) error {
	if h.kinds != nil {
		if _, ok := h.kinds[event.Kind]; !ok {
			return nil
		}
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s hook: %w", h.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s hook returned status %d", h.name, resp.StatusCode)
	}
	return nil
}

// ChatKinds open or update the buyer/seller chat room.
var ChatKinds = []string{KindTicketHeld, KindTicketSold, KindTicketCodeReady, KindTicketCancelled, KindTicketReleased}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	l *zap.SugaredLogger
}

func (r retryLogger) Error(msg string, keysAndValues ...interface{}) {
	r.l.Errorw(msg, keysAndValues...)
}

func (r retryLogger) Info(msg string, keysAndValues ...interface{}) {
	r.l.Debugw(msg, keysAndValues...)
}

func (r retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.l.Debugw(msg, keysAndValues...)
}

func (r retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.l.Warnw(msg, keysAndValues...)
}
