package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"filingkit/internal/config"
	"filingkit/internal/events"
	"filingkit/pkg/logger"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Webhook request headers.
const (
	headerWebhookEvent     = "X-Filingkit-Event"
	headerWebhookDelivery  = "X-Filingkit-Delivery"
	headerWebhookSignature = "X-Filingkit-Signature"
)

// WebhookDispatcher tails the audit log and POSTs new events to the
// configured hooks. Each hook keeps its own cursor and starts at the newest
// event present when it is first polled, so history is never replayed.
// A failed delivery stops that hook's batch and is retried on the next tick.
type WebhookDispatcher struct {
	events   *events.Writer
	hooks    []config.Webhook
	client   *http.Client
	Interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

// NewWebhookDispatcher returns nil when no hook is active.
func NewWebhookDispatcher(w *events.Writer, hooks []config.Webhook) *WebhookDispatcher {
	if w == nil {
		return nil
	}
	active := make([]config.Webhook, 0, len(hooks))
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return &WebhookDispatcher{
		events:   w,
		hooks:    active,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		Interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, idx int, hook config.Webhook) {
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		logger.Warn(ctx, "webhook cursor", "url", hook.URL, "error", err)
		return
	}
	pending, err := d.events.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		logger.Warn(ctx, "webhook fetch events", "url", hook.URL, "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range pending {
		if filter.match(evt.Type) {
			if err := d.post(ctx, hook, evt); err != nil {
				logger.Warn(ctx, "webhook delivery", "url", hook.URL, "event_id", evt.ID, "error", err)
				return
			}
			logger.Debug(ctx, "webhook delivered", "url", hook.URL, "event_id", evt.ID)
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.events.LatestID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.Webhook, evt events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerWebhookEvent, evt.Type)
	req.Header.Set(headerWebhookDelivery, strconv.FormatInt(evt.ID, 10))
	if hook.Secret != "" {
		req.Header.Set(headerWebhookSignature, SignWebhook(hook.Secret, body))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// SignWebhook returns the X-Filingkit-Signature value for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type eventFilter map[string]struct{}

func newEventFilter(types []string) eventFilter {
	set := eventFilter{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func (f eventFilter) match(evtType string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[evtType]
	return ok
}
