package upload

// EventType identifies what happened to a session.
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventChunkAcked    EventType = "chunk_acked"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Event is emitted by the scheduler on state transitions and chunk acks.
// Session-level failures always carry the session id and a human-readable
// reason; they are never silently dropped.
type Event struct {
	Type       EventType
	SessionID  string
	Status     Status
	ChunkIndex int
	Bytes      int64
	Reason     string
}
