// Package devicelink publishes schedule sets and release commands to feeders
// over MQTT.
package devicelink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CommandRelease is the command name carried by ReleaseCommand payloads.
const CommandRelease = "release"

// ErrInvalidDeviceID is returned when a device id cannot be used as an MQTT topic level.
var ErrInvalidDeviceID = errors.New("devicelink: invalid device id")

// SessionMessage is one daily feeding in a schedule payload.
type SessionMessage struct {
	Time       string  `json:"time"`
	FeedAmount float64 `json:"feed_amount"`
}

// ScheduleMessage is the device view of a recurring schedule.
type ScheduleMessage struct {
	ID         string           `json:"id"`
	Interval   string           `json:"interval"`
	DaysOfWeek []int            `json:"days_of_week"`
	StartDate  time.Time        `json:"start_date"`
	EndDate    *time.Time       `json:"end_date"`
	Timezone   string           `json:"timezone"`
	Sessions   []SessionMessage `json:"sessions"`
}

// ScheduleSet is the full set of schedules a device should follow. Each
// publication replaces the previous one.
type ScheduleSet struct {
	DeviceID  string            `json:"device_id"`
	SentAt    time.Time         `json:"sent_at"`
	Schedules []ScheduleMessage `json:"schedules"`
}

// ReleaseCommand asks a device to dispense feed immediately.
type ReleaseCommand struct {
	DeviceID    string    `json:"device_id"`
	Command     string    `json:"command"`
	FeedAmount  float64   `json:"feed_amount"`
	RequestedBy string    `json:"requested_by"`
	SentAt      time.Time `json:"sent_at"`
}

// SchedulesTopic returns the retained topic carrying a device's schedule set.
func SchedulesTopic(deviceID string) string {
	return fmt.Sprintf("feeders/%s/schedules", deviceID)
}

// ReleaseTopic returns the topic carrying release commands for a device.
func ReleaseTopic(deviceID string) string {
	return fmt.Sprintf("feeders/%s/commands/release", deviceID)
}

// ValidateDeviceID rejects ids that are empty or contain MQTT separators or wildcards.
func ValidateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if strings.ContainsAny(deviceID, "/+#\x00 ") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidDeviceID, deviceID)
	}
	return nil
}
