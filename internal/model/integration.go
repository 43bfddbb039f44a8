package model

import "time"

// Outbound webhook events.
const (
	EventAnalysisCompleted = "analysis.completed"
	EventAnalysisFailed    = "analysis.failed"
	EventUserSubscribed    = "user.subscribed"
)

// WebhookEvents lists the events an endpoint may subscribe to.
var WebhookEvents = []string{EventAnalysisCompleted, EventAnalysisFailed, EventUserSubscribed}

type APIKey struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	KeyHash    string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

type WebhookEndpoint struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribes reports whether the endpoint wants the given event.
func (e *WebhookEndpoint) Subscribes(event string) bool {
	if !e.Active {
		return false
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}
