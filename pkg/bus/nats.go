package bus

import "github.com/nats-io/nats.go"

// Room event subjects. Each gateway instance publishes room broadcasts here
// so members connected to other instances still receive them.
const (
	SubjectRoomPrefix   = "onewise.room."
	SubjectRoomWildcard = "onewise.room.>"
)

// RoomSubject returns the relay subject for one session's room.
func RoomSubject(sessionID string) string {
	return SubjectRoomPrefix + sessionID
}

// Connect creates a NATS connection for message bus communication.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("onewise-server"))
}
