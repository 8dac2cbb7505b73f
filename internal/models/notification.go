package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a notification transport.
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelTelegram Channel = "telegram"
)

// DeliveryStatus is the outcome recorded for one delivery attempt.
type DeliveryStatus string

const (
	DeliveryQueued       DeliveryStatus = "queued"
	DeliveryRinging      DeliveryStatus = "ringing"
	DeliveryAnswered     DeliveryStatus = "answered"
	DeliveryCompleted    DeliveryStatus = "completed"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliveryBusy         DeliveryStatus = "busy"
	DeliveryNoAnswer     DeliveryStatus = "no-answer"
	DeliveryAcknowledged DeliveryStatus = "acknowledged"
)

// ParseDeliveryStatus maps a provider call status onto the log vocabulary.
// Statuses the log does not track ("initiated", "in-progress", "canceled")
// are folded into the closest known state.
func ParseDeliveryStatus(s string) DeliveryStatus {
	switch s {
	case "queued", "initiated":
		return DeliveryQueued
	case "ringing":
		return DeliveryRinging
	case "answered", "in-progress":
		return DeliveryAnswered
	case "completed":
		return DeliveryCompleted
	case "busy":
		return DeliveryBusy
	case "no-answer":
		return DeliveryNoAnswer
	case "acknowledged":
		return DeliveryAcknowledged
	default:
		return DeliveryFailed
	}
}

// DeliveryLogEntry is one row of the call/delivery log. Rows are keyed by
// ProviderID; later callbacks for the same id update the row in place.
type DeliveryLogEntry struct {
	ID          uuid.UUID      `json:"id"`
	AlertID     *uuid.UUID     `json:"alert_id,omitempty"`
	SupporterID *string        `json:"supporter_id,omitempty"`
	ProviderID  string         `json:"provider_id"`
	Channel     Channel        `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Destination string         `json:"destination,omitempty"`
	// DurationSeconds is only reported for voice calls.
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
