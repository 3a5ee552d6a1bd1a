package events

// SubscriptionPayload is the payload for subscription events, acknowledging
// a stream client's current session filter.
type SubscriptionPayload struct {
	Filtering bool     `json:"filtering"`
	Sessions  []string `json:"sessions"`
}

// NewSubscriptionEvent creates a new subscription acknowledgement event.
func NewSubscriptionEvent(filtering bool, sessions []string) *BaseEvent {
	if sessions == nil {
		sessions = []string{}
	}
	return NewEvent(EventTypeSubscription, SubscriptionPayload{
		Filtering: filtering,
		Sessions:  sessions,
	})
}
