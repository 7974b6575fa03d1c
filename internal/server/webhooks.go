package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"statusflow/internal/config"
	"statusflow/internal/domain"
	"statusflow/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher polls the event log and POSTs new events to each
// configured hook. Each hook keeps its own cursor; a failed delivery is
// retried on the next tick.
type webhookDispatcher struct {
	engine   engine.Engine
	project  string
	webhooks []config.WebhookConfig
	client   *http.Client
	log      logrus.FieldLogger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookDispatcher runs delivery until ctx is done. It returns false
// when no hook is configured.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, log logrus.FieldLogger) bool {
	d := newWebhookDispatcher(e, log)
	if d == nil {
		return false
	}
	go d.run(ctx)
	return true
}

func newWebhookDispatcher(e engine.Engine, log logrus.FieldLogger) *webhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	projectID := strings.TrimSpace(e.Config.Project.ID)
	if projectID == "" {
		return nil
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &webhookDispatcher{
		engine:   e,
		project:  projectID,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log.WithField("component", "webhooks"),
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, d.project)
	if err != nil {
		d.log.WithError(err).Warn("fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"url":      hook.URL,
				"event_id": evt.ID,
			}).Warn("webhook delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor starts new hooks at the latest event so history is not replayed.
func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, d.project)
	if err != nil {
		d.log.WithError(err).Warn("init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Statusflow-Event", evt.Type)
	req.Header.Set("X-Statusflow-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Statusflow-Project", d.project)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Statusflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches exact types, or a prefix when an entry ends in ".*".
func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for key := range f.set {
		if strings.HasSuffix(key, ".*") && strings.HasPrefix(evt, strings.TrimSuffix(key, "*")) {
			return true
		}
	}
	return false
}
