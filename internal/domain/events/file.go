package events

// FileChangedPayload is the payload for file_changed events.
type FileChangedPayload struct {
	Path string `json:"path"`
}

// NewFileChangedEvent creates a new file_changed event for a session's
// watched tree. Path is relative to the watch root with "/" separators;
// it may be empty when the underlying notification carried no name.
func NewFileChangedEvent(sessionID, path string) *BaseEvent {
	return NewSessionEvent(EventTypeFileChanged, sessionID, FileChangedPayload{Path: path})
}
