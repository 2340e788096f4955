package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProducerKeysEventsByGame(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, NewProducerConfig())
	mock.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "g1" {
			return fmt.Errorf("key = %q, want g1", key)
		}
		value, _ := msg.Value.Encode()
		var fe domain.FeedEvent
		if err := json.Unmarshal(value, &fe); err != nil {
			return err
		}
		if fe.Event.Type != domain.EventGoal || fe.HomeScore != 1 {
			return fmt.Errorf("unexpected payload %s", value)
		}
		return nil
	})

	p := NewProducerWithClient(mock, "events", nil, discardLogger())
	err := p.Publish(context.Background(), []domain.FeedEvent{{
		GameID:    "g1",
		HomeScore: 1,
		Event:     domain.GameEventRecord{ID: "e1", Type: domain.EventGoal, Side: domain.SideHome},
	}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestProducerCountsDeliveryFailures(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, NewProducerConfig())
	mock.ExpectInputAndFail(errors.New("broker down"))
	mock.ExpectInputAndSucceed()

	rec := metrics.NewRecorder()
	p := NewProducerWithClient(mock, "events", rec, discardLogger())
	feed := []domain.FeedEvent{
		{GameID: "g1", Event: domain.GameEventRecord{ID: "e1", Type: domain.EventSteal}},
		{GameID: "g1", Event: domain.GameEventRecord{ID: "e2", Type: domain.EventShot}},
	}
	if err := p.Publish(context.Background(), feed); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p.Close()

	if got := rec.Snapshot().PublishErrors["kafka"]; got != 1 {
		t.Fatalf("publish errors = %d, want 1", got)
	}
}

type recordingHandler struct {
	applied []domain.Command
	reject  domain.CommandName
}

func (h *recordingHandler) ApplyCommand(_ context.Context, cmd domain.Command) error {
	if cmd.Command == h.reject {
		return domain.ErrInvalidTransition
	}
	h.applied = append(h.applied, cmd)
	return nil
}

type fakeSession struct {
	ctx    context.Context
	marked int
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) { s.marked++ }
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "commands" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func commandMessage(t *testing.T, offset int64, key string, cmd any) *sarama.ConsumerMessage {
	t.Helper()
	value, ok := cmd.([]byte)
	if !ok {
		var err error
		if value, err = json.Marshal(cmd); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return &sarama.ConsumerMessage{Key: []byte(key), Value: value, Offset: offset}
}

func TestConsumeClaimAppliesCommandsInOrder(t *testing.T) {
	handler := &recordingHandler{reject: domain.CommandPause}
	c := &Consumer{
		config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 8)}
	claim.messages <- commandMessage(t, 1, "g1", domain.Command{GameID: "g1", Command: domain.CommandStart})
	claim.messages <- commandMessage(t, 2, "g1", []byte("{not json"))
	claim.messages <- commandMessage(t, 3, "g1", domain.Command{Command: domain.CommandPause})
	claim.messages <- commandMessage(t, 4, "", domain.Command{GameID: "g1"})
	claim.messages <- commandMessage(t, 5, "g1", domain.Command{
		Command:      domain.CommandAction,
		ActionType:   domain.ActionGoal,
		Side:         domain.SideHome,
		PlayerNumber: domain.IntPtr(4),
	})
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: c}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if session.marked != 5 {
		t.Fatalf("marked %d messages, want 5", session.marked)
	}
	if len(handler.applied) != 2 {
		t.Fatalf("applied %d commands, want 2: %+v", len(handler.applied), handler.applied)
	}
	if handler.applied[0].Command != domain.CommandStart || handler.applied[1].Command != domain.CommandAction {
		t.Fatalf("commands applied out of order: %+v", handler.applied)
	}
	if handler.applied[1].GameID != "g1" {
		t.Fatalf("game id should fall back to the message key, got %q", handler.applied[1].GameID)
	}
}

type flakyHandler struct {
	failures int
	err      error
	calls    int
}

func (h *flakyHandler) ApplyCommand(context.Context, domain.Command) error {
	h.calls++
	if h.calls <= h.failures {
		return h.err
	}
	return nil
}

func TestApplyRetries(t *testing.T) {
	transient := errors.New("connection reset")
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"transient then ok", 2, transient, 3, false},
		{"transient exhausts attempts", 5, transient, 3, true},
		{"conflict not retried", 5, domain.NewTransitionError("pause", domain.StatusReady, "game not running"), 1, true},
		{"missing game not retried", 5, domain.ErrGameNotFound, 1, true},
		{"unknown player not retried", 5, domain.ErrUnknownPlayer, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &flakyHandler{failures: tt.failures, err: tt.err}
			c := &Consumer{
				config:  &config.KafkaConfig{RetryAttempts: 3},
				handler: handler,
				logger:  discardLogger(),
			}
			err := c.applyWithRetry(context.Background(), domain.Command{GameID: "g1", Command: domain.CommandPause})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if handler.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", handler.calls, tt.wantCalls)
			}
		})
	}
}

func TestApplyRetryStopsOnCancel(t *testing.T) {
	handler := &flakyHandler{failures: 10, err: errors.New("timeout")}
	c := &Consumer{
		config:  &config.KafkaConfig{RetryAttempts: 5, RetryDelay: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.applyWithRetry(ctx, domain.Command{GameID: "g1", Command: domain.CommandStart})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if handler.calls != 1 {
		t.Fatalf("calls = %d, want 1", handler.calls)
	}
}
