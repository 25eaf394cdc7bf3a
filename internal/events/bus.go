// Package events implements the tool-execution event protocol (§4.2, §4.7):
// every tool invocation publishes exactly one tool_start and one terminal
// event (tool_complete or tool_error) on a per-message topic, JSON-encoded,
// with long field values truncated before they leave the process. Grounded
// on the teacher's sessions.ToolEventStore (struct-bundling, New*
// constructors) adapted from SQL persistence to the KVStore pub/sub port.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// FieldTruncateBytes is the minimum per-field payload size before
// truncation kicks in (§4.2: "truncation, >=1 KiB/field").
const FieldTruncateBytes = 1024

// Publisher emits tool lifecycle events onto a message's event topic.
type Publisher struct {
	kv ports.KVStore
}

// NewPublisher builds a Publisher over kv.
func NewPublisher(kv ports.KVStore) *Publisher {
	return &Publisher{kv: kv}
}

// Topic returns the per-message pub/sub topic name (§4.7).
func Topic(messageID string) string {
	return fmt.Sprintf("tool-events:%s", messageID)
}

// NewToolID derives the stable, collision-resistant invocation id required
// by §4.2: "{type}_{epochMs}". now is injected so tests are deterministic.
func NewToolID(toolType string, now time.Time) string {
	return fmt.Sprintf("%s_%d", toolType, now.UnixMilli())
}

// PublishStart emits a tool_start event. Exactly one must be emitted per
// invocation, before the tool server is called.
func (p *Publisher) PublishStart(ctx context.Context, messageID string, evt models.ToolEvent) error {
	evt.Kind = models.ToolEventStart
	truncateFields(&evt)
	return p.publish(ctx, messageID, evt)
}

// PublishComplete emits a tool_complete terminal event.
func (p *Publisher) PublishComplete(ctx context.Context, messageID string, evt models.ToolEvent) error {
	evt.Kind = models.ToolEventComplete
	truncateFields(&evt)
	return p.publish(ctx, messageID, evt)
}

// PublishError emits a tool_error terminal event.
func (p *Publisher) PublishError(ctx context.Context, messageID string, evt models.ToolEvent) error {
	evt.Kind = models.ToolEventError
	truncateFields(&evt)
	return p.publish(ctx, messageID, evt)
}

func (p *Publisher) publish(ctx context.Context, messageID string, evt models.ToolEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s event: %w", evt.Kind, err)
	}
	if err := p.kv.Publish(ctx, Topic(messageID), payload); err != nil {
		return fmt.Errorf("events: publish %s event: %w", evt.Kind, err)
	}
	return nil
}

// Subscribe returns a channel of decoded ToolEvents for messageID and an
// unsubscribe func. Malformed payloads are dropped rather than surfaced, so
// one bad publish never stalls a subscriber.
func (p *Publisher) Subscribe(ctx context.Context, messageID string) (<-chan models.ToolEvent, func(), error) {
	raw, unsubscribe, err := p.kv.Subscribe(ctx, Topic(messageID))
	if err != nil {
		return nil, nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan models.ToolEvent)
	go func() {
		defer close(out)
		for payload := range raw {
			var evt models.ToolEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, unsubscribe, nil
}

// truncateFields bounds the error message and args/metadata field sizes so
// a runaway tool can't blow up the event payload (§4.2: truncation at
// >=1 KiB per field).
func truncateFields(evt *models.ToolEvent) {
	if len(evt.Error) > FieldTruncateBytes {
		evt.Error = evt.Error[:FieldTruncateBytes] + "...(truncated)"
	}
	evt.Args = truncateMapField(evt.Args)
	evt.Metadata = truncateMapField(evt.Metadata)
}

func truncateMapField(field map[string]any) map[string]any {
	if field == nil {
		return nil
	}
	encoded, err := json.Marshal(field)
	if err != nil || len(encoded) <= FieldTruncateBytes {
		return field
	}
	return map[string]any{
		"_truncated":     true,
		"_originalBytes": len(encoded),
	}
}
