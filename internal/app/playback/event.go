package playback

import "github.com/osa030/tagboxd/internal/domain/tag"

// EventType represents a hardware event type.
type EventType int

const (
	EventTagPresent    EventType = iota // a debounced tag appeared on the reader
	EventTagAbsent                      // the tag left the reader
	EventButtonPressed                  // a GPIO input line was pressed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTagPresent:
		return "tag_present"
	case EventTagAbsent:
		return "tag_absent"
	case EventButtonPressed:
		return "button_pressed"
	default:
		return "unknown"
	}
}

// Event is one debounced hardware event. The RFID monitor and the GPIO
// multiplexer both produce events onto a single shared channel; ordering
// between producers is arrival order at that channel.
type Event struct {
	Type EventType
	Tag  tag.ID // set for EventTagPresent
	Line string // input line name, set for EventButtonPressed
}
