package room

import (
	"time"
)

// Participant is one connection's membership in a room. A participant is
// created on join and destroyed on leave or transport disconnect; a
// reconnecting user always becomes a new participant with a freshly assigned
// color.
type Participant struct {
	// ConnectionID is the server-assigned id of the underlying connection,
	// unique per connection within the process.
	ConnectionID string
	// UserID is the caller-supplied logical user identifier. It is not
	// guaranteed unique across reconnects of the same user.
	UserID string
	// Name is the caller-supplied display name.
	Name string
	// Color is the display color assigned at join time from the presence
	// palette.
	Color string
	// JoinedAt is when the participant entered the room.
	JoinedAt time.Time

	sender Sender
}

// Info returns the participant's public description as sent to clients.
func (p *Participant) Info() ParticipantInfo {
	return ParticipantInfo{ID: p.UserID, Name: p.Name, Color: p.Color}
}

// Sender delivers one named event toward a connection. Delivery is best
// effort: implementations must not block room processing, and a failed send
// only affects the target connection.
type Sender interface {
	Send(event string, payload interface{}) error
}
