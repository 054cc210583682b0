package api

import (
	"encoding/json"
	"fmt"
)

// Endpoints. The production URL is the process-wide default; local development
// typically points the client at a mock backend instead.
const (
	DefaultBaseURL    = "https://api.cd.italia.it/api/v1"
	DefaultDevBaseURL = "http://localhost:3000"
)

// Error is the application-level error shape the messaging API embeds in
// response bodies: {"statusCode": ..., "message": ...}.
//
// A 429 never surfaces as an Error; the client absorbs it (see Client.do).
type Error struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a remote 404 shape.
func (e *Error) NotFound() bool { return e.StatusCode == 404 }

// decodeError returns the embedded error shape, or nil when the body does not
// carry a non-2xx statusCode.
func decodeError(raw json.RawMessage) *Error {
	var e Error
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}
	if e.StatusCode == 0 || (e.StatusCode >= 200 && e.StatusCode < 300) {
		return nil
	}
	return &e
}

// Profile is a registered recipient as the remote system knows it.
type Profile struct {
	FiscalCode         string   `json:"fiscal_code"`
	Email              string   `json:"email,omitempty"`
	PreferredLanguages []string `json:"preferred_languages,omitempty"`
	SenderAllowed      bool     `json:"sender_allowed,omitempty"`
	Version            int      `json:"version,omitempty"`
}

// MessagePayload is the body of POST /messages.
type MessagePayload struct {
	Recipient     string `json:"fiscal_code"`
	Subject       string `json:"subject"`
	Markdown      string `json:"markdown"`
	DueDate       string `json:"due_date,omitempty"` // ISO 8601 date
	Amount        int64  `json:"amount,omitempty"`   // eurocents
	PaymentNotice string `json:"payment_notice,omitempty"`
}

// CreatedMessage is the success shape of POST /messages.
type CreatedMessage struct {
	ID string `json:"id"`
}

// DeliveryState is a per-channel delivery outcome reported by the remote API.
type DeliveryState string

const (
	StateSent      DeliveryState = "SENT"
	StateThrottled DeliveryState = "THROTTLED"
	StateExpired   DeliveryState = "EXPIRED"
	StateFailed    DeliveryState = "FAILED"
	StateProcessed DeliveryState = "PROCESSED"
	StateErrored   DeliveryState = "ERRORED"
	StateQueued    DeliveryState = "QUEUED"
)

// MessageStatus is the shape of GET /messages/{id}/status: one delivery state
// per notification channel (e.g. "email", "push").
type MessageStatus struct {
	Channels map[string]DeliveryState `json:"channels"`
}
