package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, qos: qos, retained: retained, payload: payload})
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMQTTPublisher_PublishSchedules(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 0, quietLogger())
	sentAt := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	err := publisher.PublishSchedules(context.Background(), ScheduleSet{
		DeviceID: "barn-01",
		SentAt:   sentAt,
		Schedules: []ScheduleMessage{{
			ID:         "s-1",
			Interval:   "weekly",
			DaysOfWeek: []int{1, 3, 5},
			StartDate:  sentAt,
			EndDate:    &end,
			Timezone:   "Europe/Amsterdam",
			Sessions:   []SessionMessage{{Time: "08:00", FeedAmount: 1.5}},
		}},
	})
	if err != nil {
		t.Fatalf("PublishSchedules returned error: %v", err)
	}

	if len(transport.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(transport.messages))
	}
	msg := transport.messages[0]
	if msg.topic != "feeders/barn-01/schedules" || !msg.retained || msg.qos != 1 {
		t.Fatalf("unexpected publication: %+v", msg)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	schedules, ok := decoded["schedules"].([]any)
	if !ok || len(schedules) != 1 {
		t.Fatalf("unexpected schedules field: %v", decoded["schedules"])
	}
	first := schedules[0].(map[string]any)
	if first["interval"] != "weekly" || first["timezone"] != "Europe/Amsterdam" {
		t.Fatalf("unexpected schedule payload: %v", first)
	}
	sessions := first["sessions"].([]any)
	if sessions[0].(map[string]any)["feed_amount"] != 1.5 {
		t.Fatalf("unexpected session payload: %v", sessions[0])
	}
}

func TestMQTTPublisher_EmptySetEncodesEmptyArray(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 0, quietLogger())
	if err := publisher.PublishSchedules(context.Background(), ScheduleSet{DeviceID: "barn-01"}); err != nil {
		t.Fatalf("PublishSchedules returned error: %v", err)
	}

	var decoded struct {
		Schedules []ScheduleMessage `json:"schedules"`
	}
	if err := json.Unmarshal(transport.messages[0].payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Schedules == nil {
		t.Fatal("expected an empty array rather than null")
	}
}

func TestMQTTPublisher_PublishRelease(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 0, quietLogger())
	err := publisher.PublishRelease(context.Background(), ReleaseCommand{
		DeviceID:    "barn-01",
		FeedAmount:  0.5,
		RequestedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("PublishRelease returned error: %v", err)
	}

	msg := transport.messages[0]
	if msg.topic != "feeders/barn-01/commands/release" || msg.retained {
		t.Fatalf("unexpected publication: %+v", msg)
	}
	var cmd ReleaseCommand
	if err := json.Unmarshal(msg.payload, &cmd); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if cmd.Command != CommandRelease || cmd.FeedAmount != 0.5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestMQTTPublisher_ClearSchedules(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 0, quietLogger())
	if err := publisher.ClearSchedules(context.Background(), "barn-01"); err != nil {
		t.Fatalf("ClearSchedules returned error: %v", err)
	}
	msg := transport.messages[0]
	if !msg.retained || len(msg.payload) != 0 {
		t.Fatalf("expected empty retained payload, got %+v", msg)
	}
}

func TestMQTTPublisher_RejectsTopicCharacters(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 0, quietLogger())
	for _, id := range []string{"", "a/b", "all+", "#"} {
		err := publisher.PublishSchedules(context.Background(), ScheduleSet{DeviceID: id})
		if !errors.Is(err, ErrInvalidDeviceID) {
			t.Fatalf("expected ErrInvalidDeviceID for %q, got %v", id, err)
		}
	}
	if len(transport.messages) != 0 {
		t.Fatalf("expected nothing published, got %d", len(transport.messages))
	}
}

func TestMQTTPublisher_ThrottleHonoursContext(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	publisher := NewMQTTPublisher(transport, 1, quietLogger())

	if err := publisher.PublishRelease(context.Background(), ReleaseCommand{DeviceID: "barn-01"}); err != nil {
		t.Fatalf("first publish returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.PublishRelease(ctx, ReleaseCommand{DeviceID: "barn-01"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while throttled, got %v", err)
	}
	if len(transport.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(transport.messages))
	}
}

func TestMQTTPublisher_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker unavailable")
	publisher := NewMQTTPublisher(&fakeTransport{err: boom}, 0, quietLogger())
	if err := publisher.PublishRelease(context.Background(), ReleaseCommand{DeviceID: "barn-01"}); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{Logger: quietLogger()}
	ctx := context.Background()
	if err := p.PublishSchedules(ctx, ScheduleSet{DeviceID: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishRelease(ctx, ReleaseCommand{DeviceID: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ClearSchedules(ctx, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
