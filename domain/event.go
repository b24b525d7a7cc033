// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/publisher.go -package=mocks . Publisher

type EventKind string

const (
	EventPhishingUpdate = EventKind("phishing_update")
	EventBatchCompleted = EventKind("phishing_batch_completed")
)

type Event struct {
	Kind      EventKind `json:"-"`
	MessageId int64     `json:"email_id,omitempty"`
	Level     Level     `json:"phishing_level,omitempty"`
	Score     float64   `json:"phishing_score"`
	Status    Status    `json:"phishing_status,omitempty"`
	Reason    string    `json:"phishing_reason,omitempty"`
	Processed int       `json:"processed,omitempty"`
}

// Publisher delivers events to the live subscribers of one user.
type Publisher interface {
	Publish(userId int64, event Event)
}
