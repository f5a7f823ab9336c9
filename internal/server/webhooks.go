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

	"go.uber.org/zap"

	"casework/internal/config"
	"casework/internal/domain"
	"casework/internal/engine"
	"casework/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	webhookBatch           = 100

	SignatureHeader = "X-Casework-Signature"
)

// WebhookDispatcher forwards data runs recorded in the event log to the
// configured webhooks. Each hook starts at the newest event when first
// polled and only moves past an event once it was delivered or filtered.
type WebhookDispatcher struct {
	Engine   engine.Engine
	Webhooks []config.Webhook
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger

	once  sync.Once
	mu    sync.Mutex
	hooks []*hookState
}

type hookState struct {
	cfg     config.Webhook
	accepts func(evtType string) bool
	cursor  int64
	primed  bool
}

// StartWebhooks polls in the background until ctx is done. It returns nil
// when no webhook is enabled.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *zap.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	d := &WebhookDispatcher{Engine: e, Webhooks: e.Config.Webhooks, Logger: logger}
	if len(d.active()) == 0 {
		return nil
	}
	logging.OrNop(logger).Info("webhooks enabled", zap.Int("count", len(d.active())))
	go d.Run(ctx)
	return d
}

func (d *WebhookDispatcher) active() []*hookState {
	d.once.Do(func() {
		for _, hook := range d.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			d.hooks = append(d.hooks, &hookState{cfg: hook, accepts: eventTypeFilter(hook.Events)})
		}
	})
	return d.hooks
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll delivers everything pending to each hook once. Hooks are
// served in turn so one slow receiver delays, but never reorders, the rest.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.active() {
		if ctx.Err() != nil {
			return
		}
		d.drain(ctx, h)
	}
}

func (d *WebhookDispatcher) drain(ctx context.Context, h *hookState) {
	log := logging.OrNop(d.Logger).With(zap.String("url", h.cfg.URL))
	if !h.primed {
		latest, err := d.Engine.Repo.LatestEventID(ctx)
		if err != nil {
			log.Warn("webhook cursor unavailable", zap.Error(err))
			return
		}
		h.cursor, h.primed = latest, true
	}
	pending, err := d.Engine.Repo.EventsAfter(ctx, webhookBatch, h.cursor)
	if err != nil {
		log.Warn("webhook poll failed", zap.Error(err))
		return
	}
	for _, evt := range pending {
		if h.accepts(evt.Type) {
			if err := d.deliver(ctx, h.cfg, evt); err != nil {
				// the same event is retried on the next poll
				log.Warn("webhook delivery failed", zap.Int64("event_id", evt.ID), zap.Error(err))
				return
			}
			log.Debug("webhook delivered", zap.String("type", evt.Type), zap.Int64("event_id", evt.ID))
		}
		h.cursor = evt.ID
	}
}

// runNotice is the JSON body POSTed for each event.
type runNotice struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func noticeFor(evt domain.Event) runNotice {
	n := runNotice{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage(`{}`),
	}
	if json.Valid([]byte(evt.Payload)) {
		n.Payload = json.RawMessage(evt.Payload)
	}
	return n
}

func (d *WebhookDispatcher) deliver(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	body, err := json.Marshal(noticeFor(evt))
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Casework-Event", evt.Type)
	req.Header.Set("X-Casework-Delivery", strconv.FormatInt(evt.ID, 10))
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(hook.Secret, body))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("receiver answered %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// SignPayload returns the signature header value receivers compare against:
// "sha256=" followed by the hex HMAC-SHA256 of body keyed with secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func eventTypeFilter(types []string) func(string) bool {
	wanted := map[string]bool{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			wanted[t] = true
		}
	}
	if len(wanted) == 0 {
		return func(string) bool { return true }
	}
	return func(t string) bool { return wanted[t] }
}
