package profile

import (
	"context"
	"errors"
	"sync"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/eventbus"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

// ErrQueueFull is returned by Enqueue when the job queue has no room.
var ErrQueueFull = errors.New("profile queue full")

type Config struct {
	Workers   int
	QueueSize int
}

// Job asks the worker pool to resolve a raw recipient list for one batch.
// BaseURL optionally redirects lookups at a non-default endpoint.
type Job struct {
	BatchID    string
	Recipients []string
	BaseURL    string
}

// JobResult is the payload of the batch completion event. It is a
// best-effort signal: Failed > 0 means the batch is incomplete, and callers
// comparing expected vs. resolved counts is the only reliable check.
type JobResult struct {
	BatchID  string `json:"batchId"`
	Total    int    `json:"total"`
	Resolved int    `json:"resolved"`
	Failed   int    `json:"failed"`
}

// RecipientResult is the payload of per-recipient resolution events.
type RecipientResult struct {
	BatchID    string `json:"batchId"`
	FiscalCode string `json:"fiscalCode"`
	Error      string `json:"error,omitempty"`
}

// Resolver is the slice of the API client the worker needs.
type Resolver interface {
	GetProfile(ctx context.Context, fiscalCode string, opts *api.CallOptions) (*api.Profile, error)
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	client Resolver
	store  store.Store
	bus    eventbus.Bus
	log    logx.Logger

	queue  chan Job
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
