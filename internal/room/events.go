// Package room implements the room state machine and the process-wide
// registry of sessions, users, and rooms (spec §4.8-§4.9). It has no
// knowledge of the TCP wire format or the WebSocket push layer; both are
// connected to it through small interfaces (Sender, BanChecker) and the
// Events channel, mirroring the teacher's preference for independently
// testable packages wired by minimal interfaces.
package room

// EventKind classifies an Event emitted onto a Registry's Events channel.
type EventKind int

const (
	// EventRoomUpdate fires after any room state/membership change.
	EventRoomUpdate EventKind = iota
	// EventRoomLog carries a timestamped human-readable line for a room.
	EventRoomLog
	// EventRoomCreated fires once, when a room is created.
	EventRoomCreated
	// EventRoomDisbanded fires once, when a room is torn down.
	EventRoomDisbanded
)

// Event is a notification the WebSocket push layer (internal/wspush)
// consumes to project room state into JSON without this package importing
// anything about websockets. See DESIGN NOTES §9 "cyclic reference between
// room-push and server state".
type Event struct {
	Kind    EventKind
	RoomID  string
	Message string // populated for EventRoomLog
}

// eventsBufferSize bounds how many pending events the push layer may lag
// behind by before new events are dropped rather than blocking a room's
// mutex holder.
const eventsBufferSize = 256

func (reg *Registry) emit(ev Event) {
	select {
	case reg.events <- ev:
	default:
		reg.logger.Warn("dropping room event, subscriber channel full", "kind", ev.Kind, "room_id", ev.RoomID)
	}
}
