package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// TopicRun carries every event emitted during one orchestration run.
const TopicRun = "run.events"

// Event types.
const (
	TypeStateChanged = "state_changed"
	TypeProbeAttempt = "probe_attempt"
	TypeRunFinished  = "run_finished"
)

// Event is one observable step of an orchestration run. State transitions and
// probe attempts are emitted in the order they happen per service.
type Event struct {
	Type    string    `json:"type"`
	Service string    `json:"service,omitempty"`
	State   string    `json:"state,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	When    time.Time `json:"when"`
}

// Publish marshals ev and publishes it on TopicRun. A nil publisher is a
// no-op so callers can run without a bus.
func Publish(pub message.Publisher, ev Event) error {
	if pub == nil {
		return nil
	}
	if ev.When.IsZero() {
		ev.When = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return pub.Publish(TopicRun, message.NewMessage(watermill.NewUUID(), b))
}

// Decode unmarshals a bus message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "unmarshal event")
	}
	return ev, nil
}
