package events

// SessionLifecyclePayload is the payload for session_started, session_stopped
// and session_error events.
type SessionLifecyclePayload struct {
	Name   string `json:"name"`
	Server string `json:"server"`
	Mode   string `json:"mode"`
	Error  string `json:"error,omitempty"`
}

// SyncCompletedPayload is the payload for sync_completed events.
type SyncCompletedPayload struct {
	Method       string `json:"method"`
	FallbackUsed bool   `json:"fallback_used"`
	ExitCode     int    `json:"exit_code"`
	Success      bool   `json:"success"`
}

// RunCompletedPayload is the payload for run_completed events (short mode).
type RunCompletedPayload struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
}

// TaskPayload is the payload for task_started and task_status events
// (long mode).
type TaskPayload struct {
	PID     string `json:"pid,omitempty"`
	LogFile string `json:"log_file,omitempty"`
	Running bool   `json:"running"`
}

// NewSessionStartedEvent creates a new session_started event.
func NewSessionStartedEvent(sessionID, name, server, mode string) *BaseEvent {
	return NewSessionEvent(EventTypeSessionStarted, sessionID, SessionLifecyclePayload{
		Name:   name,
		Server: server,
		Mode:   mode,
	})
}

// NewSessionStoppedEvent creates a new session_stopped event.
func NewSessionStoppedEvent(sessionID, name, server, mode string) *BaseEvent {
	return NewSessionEvent(EventTypeSessionStopped, sessionID, SessionLifecyclePayload{
		Name:   name,
		Server: server,
		Mode:   mode,
	})
}

// NewSessionErrorEvent creates a new session_error event.
func NewSessionErrorEvent(sessionID, name string, err error) *BaseEvent {
	payload := SessionLifecyclePayload{Name: name}
	if err != nil {
		payload.Error = err.Error()
	}
	return NewSessionEvent(EventTypeSessionError, sessionID, payload)
}

// NewSyncCompletedEvent creates a new sync_completed event.
func NewSyncCompletedEvent(sessionID, method string, fallbackUsed bool, exitCode int, success bool) *BaseEvent {
	return NewSessionEvent(EventTypeSyncCompleted, sessionID, SyncCompletedPayload{
		Method:       method,
		FallbackUsed: fallbackUsed,
		ExitCode:     exitCode,
		Success:      success,
	})
}

// NewRunCompletedEvent creates a new run_completed event.
func NewRunCompletedEvent(sessionID, command string, exitCode int) *BaseEvent {
	return NewSessionEvent(EventTypeRunCompleted, sessionID, RunCompletedPayload{
		Command:  command,
		ExitCode: exitCode,
	})
}

// NewTaskStartedEvent creates a new task_started event.
func NewTaskStartedEvent(sessionID, pid, logFile string) *BaseEvent {
	return NewSessionEvent(EventTypeTaskStarted, sessionID, TaskPayload{
		PID:     pid,
		LogFile: logFile,
		Running: true,
	})
}

// NewTaskStatusEvent creates a new task_status event.
func NewTaskStatusEvent(sessionID, pid string, running bool) *BaseEvent {
	return NewSessionEvent(EventTypeTaskStatus, sessionID, TaskPayload{
		PID:     pid,
		Running: running,
	})
}
