package dispatch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

// ErrBatchPartialFailure marks a batch whose fan-out had at least one failed
// send. Messages already acknowledged by the remote API stay persisted; the
// per-recipient results tell callers which sends need reconciliation.
var ErrBatchPartialFailure = errors.New("batch send partially failed")

// ErrInvalidContent marks template or parameter validation failures. They
// are raised before any network call; boundaries map them to client errors.
var ErrInvalidContent = errors.New("invalid message content")

type Config struct {
	// RatePerSec caps outgoing sends during fan-out. Defaults to 10.
	RatePerSec int
	Limits     Limits
}

// Sender is the slice of the API client the orchestrator needs.
type Sender interface {
	GetProfile(ctx context.Context, fiscalCode string, opts *api.CallOptions) (*api.Profile, error)
	CreateProfile(ctx context.Context, fiscalCode string, opts *api.CallOptions) (*api.Profile, error)
	PostMessage(ctx context.Context, payload api.MessagePayload, opts *api.CallOptions) (*api.CreatedMessage, error)
}

// SendResult is the outcome of one send attempt within a batch.
// Exactly one of MessageID / Err is meaningful.
type SendResult struct {
	RecipientID string
	MessageID   string // document id of the persisted message
	RemoteID    string // id assigned by the messaging API
	Err         error
}

type Orchestrator struct {
	mu sync.Mutex

	cfg     Config
	client  Sender
	store   store.Store
	log     logx.Logger
	limiter *rate.Limiter
}
