package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/mptrack/internal/filter"
	"github.com/rzbill/mptrack/internal/metrics"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/log"
	"github.com/rzbill/mptrack/pkg/types"
)

// BaseEvent is a fully specified event.
type BaseEvent struct {
	MessageType types.MessageType
	Name        string
	EventType   types.EventType
	Attrs       map[string]any
	// Flags are forwarded verbatim to the collection service.
	Flags map[string]string
}

// LogEvent tracks a custom event.
func (in *Instance) LogEvent(name string, eventType types.EventType, attrs map[string]any) error {
	return in.LogBaseEvent(BaseEvent{MessageType: types.MessagePageEvent, Name: name, EventType: eventType, Attrs: attrs})
}

// LogPageView tracks a screen or page view. An empty name logs "PageView".
func (in *Instance) LogPageView(name string, attrs map[string]any) error {
	if name == "" {
		name = "PageView"
	}
	return in.LogBaseEvent(BaseEvent{MessageType: types.MessagePageView, Name: name, Attrs: attrs})
}

// LogError tracks an error report.
func (in *Instance) LogError(message string, attrs map[string]any) error {
	if message == "" {
		return fmt.Errorf("%w: error message is required", ErrInvalidEvent)
	}
	a := maps.Clone(attrs)
	if a == nil {
		a = make(map[string]any, 1)
	}
	a["m"] = message
	return in.LogBaseEvent(BaseEvent{MessageType: types.MessageCrashReport, Name: message, Attrs: a})
}

// LogLink tracks a link click as a navigation event.
func (in *Instance) LogLink(name string, attrs map[string]any) error {
	return in.LogEvent(name, types.EventTypeNavigation, attrs)
}

// LogForm tracks a form submission as a navigation event.
func (in *Instance) LogForm(name string, attrs map[string]any) error {
	return in.LogEvent(name, types.EventTypeNavigation, attrs)
}

// LogBaseEvent validates ev and posts it.
func (in *Instance) LogBaseEvent(ev BaseEvent) error {
	if ev.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if !ev.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %d", ErrInvalidEvent, int(ev.EventType))
	}
	if ev.MessageType == "" {
		ev.MessageType = types.MessagePageEvent
	}
	msg := transport.Message{
		Type:      ev.MessageType,
		Name:      ev.Name,
		EventType: int(ev.EventType),
		Attrs:     maps.Clone(ev.Attrs),
		Flags:     maps.Clone(ev.Flags),
	}
	typeName := ev.EventType.Name()
	return in.post(func(in *Instance) { in.track(msg, typeName) })
}

// Flush uploads everything pending in the outbox.
func (in *Instance) Flush(ctx context.Context) error {
	_, err := call(ctx, in, func(in *Instance) (struct{}, error) {
		cctx, cancel := mergeDone(ctx, in.ctx)
		defer cancel()
		return struct{}{}, in.upload(cctx)
	})
	return err
}

// Pending returns the number of outbox entries not yet uploaded.
func (in *Instance) Pending(ctx context.Context) (int, error) {
	return call(ctx, in, func(in *Instance) (int, error) {
		return in.outbox.Len(context.Background())
	})
}

// track applies opt-out, the event filter and the session to msg, then
// enqueues it.
func (in *Instance) track(msg transport.Message, eventTypeName string) {
	var optOut bool
	in.view(func(r *persist.Record) { optOut = r.OptOut })
	if optOut {
		in.m.EventDropped(in.name, metrics.ReasonOptOut)
		return
	}
	if !in.filter.Keep(filter.Input{
		Name:        msg.Name,
		EventType:   eventTypeName,
		MessageType: string(msg.Type),
		Attrs:       msg.Attrs,
	}) {
		in.log.Debug("event filtered", log.Str("event", msg.Name))
		in.m.EventDropped(in.name, metrics.ReasonFiltered)
		return
	}
	in.ensureSession()
	if err := in.enqueue(msg); err != nil {
		return
	}
	in.afterEnqueue()
}

// enqueue stamps msg with the instance context and appends it to the
// outbox.
func (in *Instance) enqueue(msg transport.Message) error {
	now := time.Now().UnixMilli()
	msg.ID = in.ids.Next().String()
	msg.TimestampMs = now
	msg.APIKey = in.apiKey
	in.view(func(r *persist.Record) {
		msg.DeviceID = r.DeviceID
		msg.MPID = r.CurrentMPID
		if msg.SessionID == "" && msg.Type != types.MessageSessionEnd {
			msg.SessionID = r.Session.ID
			msg.SessionStartMs = r.Session.StartMs
		}
		if u, ok := r.Users[r.CurrentMPID]; ok && u.Consent != nil && !u.Consent.Empty() {
			c := u.Consent.Clone()
			msg.Consent = &c
		}
	})
	if msg.CurrencyCode == "" && msg.Type == types.MessageCommerce {
		msg.CurrencyCode = in.currency
	}
	msg.AppName = in.appName
	msg.AppVersion = in.appVersion

	payload, err := json.Marshal(msg)
	if err != nil {
		in.log.Error("encode message failed", log.Str("event", msg.Name), log.Err(err))
		return err
	}
	if _, err := in.outbox.Append(context.Background(), payload); err != nil {
		in.log.Error("outbox append failed", log.Str("event", msg.Name), log.Err(err))
		return err
	}
	in.unsent++
	in.m.EventEnqueued(in.name)
	return nil
}

// afterEnqueue applies the upload policy.
func (in *Instance) afterEnqueue() {
	if in.draining {
		return
	}
	if in.cfg.UploadInterval == 0 || in.unsent >= in.cfg.UploadBatchSize {
		_ = in.upload(in.ctx)
	}
}

// upload sends pending entries in batches until the outbox is empty or an
// upload fails. Failed entries stay in the outbox. The outbox is shared by
// every instance of the same apiKey and namespace; Drain serializes them.
func (in *Instance) upload(ctx context.Context) error {
	if in.draining {
		return nil
	}
	defer func() {
		if n, err := in.outbox.Len(context.Background()); err == nil {
			in.unsent = n
			in.m.SetOutboxDepth(in.name, n)
		}
	}()
	dropped, err := in.outbox.Drain(context.Background(), in.cfg.UploadBatchSize, func(entries []persist.OutboxEntry) error {
		return in.send(ctx, entries)
	})
	if dropped > 0 {
		in.log.Warn("dropped corrupt outbox entries", log.Int("count", dropped))
	}
	return err
}

// send uploads one batch of outbox entries.
func (in *Instance) send(ctx context.Context, entries []persist.OutboxEntry) error {
	batch := transport.Batch{
		ID:          uuid.NewString(),
		SDK:         transport.SDKVersion,
		APIKey:      in.apiKey,
		TimestampMs: time.Now().UnixMilli(),
		Messages:    make([]transport.Message, 0, len(entries)),
	}
	for _, e := range entries {
		var m transport.Message
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			in.log.Warn("dropping undecodable outbox entry", log.Int64("seq", int64(e.Seq)), log.Err(err))
			continue
		}
		batch.Messages = append(batch.Messages, m)
	}
	if len(batch.Messages) == 0 {
		return nil
	}
	resp, err := in.rt.Transport().Upload(ctx, in.cfg.CDNBaseURL, batch)
	if err != nil {
		in.log.Warn("upload failed, keeping messages", log.Int("messages", len(batch.Messages)), log.Err(err))
		return err
	}
	if len(resp.Store) > 0 {
		_ = in.update(func(r *persist.Record) { r.MergeServerStore(resp.Store) })
	}
	return nil
}
