package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document types. The type string plus the generated id is the whole
// addressing scheme; there is no per-type table.
const (
	TypeTemplate = "template"
	TypeContact  = "contact"
	TypeBatch    = "batch"
	TypeMessage  = "message"
	TypeStatus   = "status"
)

// Template is a reusable message body. Immutable after creation.
type Template struct {
	Subject  string `json:"subject"`
	Markdown string `json:"markdown"`
}

// Batch names a set of pending recipients awaiting resolution.
// The batch document's own id is referenced by every contact and message
// produced from it.
type Batch struct {
	TemplateID string `json:"templateId"`
}

// Contact is a resolved recipient. Contacts created by batch resolution carry
// the batch id in the document's BatchID field; manually entered contacts
// never do. The document id is the recipient's fiscal code.
type Contact struct {
	FiscalCode         string   `json:"fiscal_code"`
	Email              string   `json:"email,omitempty"`
	PreferredLanguages []string `json:"preferred_languages,omitempty"`
	SenderAllowed      bool     `json:"sender_allowed,omitempty"`
}

// Message records one send attempt acknowledged by the remote API.
// Delivery status is never written here; it arrives later as separate
// status documents (see StatusReport).
type Message struct {
	TemplateID    string `json:"templateId"`
	RecipientID   string `json:"recipientId"`
	RemoteID      string `json:"remoteId"`
	Subject       string `json:"subject"`
	Markdown      string `json:"markdown"`
	DueDate       string `json:"due_date,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	PaymentNotice string `json:"payment_notice,omitempty"`
}

// StatusReport is one remote-reported delivery state for one channel of one
// message. Reports are insert-only; the newest report per channel wins.
type StatusReport struct {
	MessageID  string    `json:"messageId"`
	Channel    string    `json:"channel"`
	State      string    `json:"state"`
	ReportedAt time.Time `json:"reported_at"`
}

// NewDocument marshals a typed record into a Document ready for Insert.
// Pass an empty id to have the store assign one.
func NewDocument(typ, id, batchID string, record any) (Document, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s record: %w", typ, err)
	}
	return Document{ID: id, Type: typ, BatchID: batchID, Body: body}, nil
}

// Decode unmarshals a document body into the given typed record.
func Decode(doc Document, record any) error {
	if err := json.Unmarshal(doc.Body, record); err != nil {
		return fmt.Errorf("decode %s %s: %w", doc.Type, doc.ID, err)
	}
	return nil
}
