package devicelink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

const qosAtLeastOnce byte = 1

// Publisher delivers messages to feeders.
type Publisher interface {
	PublishSchedules(ctx context.Context, set ScheduleSet) error
	PublishRelease(ctx context.Context, cmd ReleaseCommand) error
	ClearSchedules(ctx context.Context, deviceID string) error
}

// Transport is the broker connection used by MQTTPublisher.
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher encodes messages as JSON and publishes them through a
// Transport at a bounded rate.
type MQTTPublisher struct {
	transport Transport
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewMQTTPublisher creates a publisher allowing perSecond publications per
// second with an equal burst. A non-positive rate disables throttling.
func NewMQTTPublisher(transport Transport, perSecond int, logger *slog.Logger) *MQTTPublisher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		transport: transport,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "devicelink")),
	}
}

// PublishSchedules publishes the schedule set as a retained message so a
// device that reconnects receives the latest set.
func (p *MQTTPublisher) PublishSchedules(ctx context.Context, set ScheduleSet) error {
	if err := ValidateDeviceID(set.DeviceID); err != nil {
		return err
	}
	if set.Schedules == nil {
		set.Schedules = []ScheduleMessage{}
	}
	return p.publish(ctx, SchedulesTopic(set.DeviceID), true, set)
}

// PublishRelease publishes a one-shot release command.
func (p *MQTTPublisher) PublishRelease(ctx context.Context, cmd ReleaseCommand) error {
	if err := ValidateDeviceID(cmd.DeviceID); err != nil {
		return err
	}
	cmd.Command = CommandRelease
	return p.publish(ctx, ReleaseTopic(cmd.DeviceID), false, cmd)
}

// ClearSchedules removes the retained schedule set of a device.
func (p *MQTTPublisher) ClearSchedules(ctx context.Context, deviceID string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("devicelink: wait for publish slot: %w", err)
	}
	// An empty retained payload deletes the retained message on the broker.
	return p.transport.Publish(SchedulesTopic(deviceID), qosAtLeastOnce, true, []byte{})
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, retained bool, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("devicelink: encode payload for %s: %w", topic, err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("devicelink: wait for publish slot: %w", err)
	}
	if err := p.transport.Publish(topic, qosAtLeastOnce, retained, payload); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}

// NopPublisher discards every message. It is used when no broker is configured.
type NopPublisher struct {
	Logger *slog.Logger
}

func (n NopPublisher) PublishSchedules(ctx context.Context, set ScheduleSet) error {
	n.log(ctx, SchedulesTopic(set.DeviceID))
	return nil
}

func (n NopPublisher) PublishRelease(ctx context.Context, cmd ReleaseCommand) error {
	n.log(ctx, ReleaseTopic(cmd.DeviceID))
	return nil
}

func (n NopPublisher) ClearSchedules(ctx context.Context, deviceID string) error {
	n.log(ctx, SchedulesTopic(deviceID))
	return nil
}

func (n NopPublisher) log(ctx context.Context, topic string) {
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "broker not configured; message dropped", slog.String("topic", topic))
	}
}
