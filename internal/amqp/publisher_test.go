package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/streadway/amqp"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/metrics"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared []string
	sent     []published
	failAt   int
	closed   bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.failAt > 0 && len(c.sent)+1 == c.failAt {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		gameID string
		typ    domain.EventType
		want   string
	}{
		{"g1", domain.EventGoal, "game.g1.goal"},
		{"b7f0", domain.EventFoulOut, "game.b7f0.foul_out"},
		{"a.b", domain.EventSteal, "game.a_b.steal"},
	}
	for _, tt := range tests {
		if got := RoutingKey(tt.gameID, tt.typ); got != tt.want {
			t.Errorf("RoutingKey(%q, %q) = %q, want %q", tt.gameID, tt.typ, got, tt.want)
		}
	}
}

func TestPublishDeclaresExchangeAndSendsEvents(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisherWithChannel(ch, "waterpolo.events", nil, discardLogger())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "waterpolo.events:topic" {
		t.Fatalf("declared = %v", ch.declared)
	}

	feed := []domain.FeedEvent{
		{GameID: "g1", HomeScore: 1, Event: domain.GameEventRecord{ID: "e1", Type: domain.EventGoal}},
		{GameID: "g1", HomeScore: 1, Event: domain.GameEventRecord{ID: "e2", Type: domain.EventAssist}},
	}
	if err := p.Publish(context.Background(), feed); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(ch.sent))
	}
	first := ch.sent[0]
	if first.key != "game.g1.goal" || first.msg.MessageId != "e1" || first.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("first message = %+v", first)
	}
	var fe domain.FeedEvent
	if err := json.Unmarshal(first.msg.Body, &fe); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if fe.GameID != "g1" || fe.Event.ID != "e1" {
		t.Fatalf("body = %+v", fe)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v closed=%v", err, ch.closed)
	}
}

func TestPublishFailureIsCounted(t *testing.T) {
	ch := &fakeChannel{failAt: 2}
	rec := metrics.NewRecorder()
	p, err := NewPublisherWithChannel(ch, "x", rec, discardLogger())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	feed := []domain.FeedEvent{
		{GameID: "g1", Event: domain.GameEventRecord{ID: "e1", Type: domain.EventGoal}},
		{GameID: "g1", Event: domain.GameEventRecord{ID: "e2", Type: domain.EventGoal}},
		{GameID: "g1", Event: domain.GameEventRecord{ID: "e3", Type: domain.EventGoal}},
	}
	if err := p.Publish(context.Background(), feed); err == nil {
		t.Fatalf("expected publish error")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d messages before failure, want 1", len(ch.sent))
	}
	if got := rec.Snapshot().PublishErrors["amqp"]; got != 1 {
		t.Fatalf("publish errors = %d, want 1", got)
	}
}
