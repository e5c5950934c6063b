package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// State is the lifecycle of a Service.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errJoinInProgress = errors.New("contract: join already in progress")

// Connector opens a backend joined to the contract at address.
type Connector func(ctx context.Context, address string) (Backend, error)

// Service owns the contract connection. Handlers receive the Service and ask
// it for the Contract on every request, so requests arriving before Init
// completes see ErrNotReady instead of a nil connection.
type Service struct {
	mu      sync.RWMutex
	state   State
	backend Backend
	address string
	joining bool
	connect Connector
	logger  *slog.Logger
}

// NewService creates an uninitialized Service.
func NewService(address string, connect Connector, logger *slog.Logger) *Service {
	return &Service{
		address: address,
		connect: connect,
		logger:  logger.With(slog.String("component", "contract")),
	}
}

// Address returns the configured contract address.
func (s *Service) Address() string { return s.address }

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Init joins the contract. A missing address is a fatal configuration error.
// Calling Init on a Ready service is a no-op.
func (s *Service) Init(ctx context.Context) error {
	if s.address == "" {
		return domain.ErrMissingAddress
	}

	s.mu.Lock()
	switch {
	case s.state == StateReady:
		s.mu.Unlock()
		return nil
	case s.state == StateClosed:
		s.mu.Unlock()
		return domain.ErrClosed
	case s.joining:
		s.mu.Unlock()
		return errJoinInProgress
	}
	s.joining = true
	s.mu.Unlock()

	backend, err := s.connect(ctx, s.address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.joining = false
	if err != nil {
		return fmt.Errorf("contract: join %s: %w", s.address, err)
	}
	if s.state == StateClosed {
		_ = backend.Close()
		return domain.ErrClosed
	}
	s.backend = backend
	s.state = StateReady
	s.logger.InfoContext(ctx, "contract joined", slog.String("address", s.address))
	return nil
}

// InitWithRetry calls Init until it succeeds, the context ends or a
// non-retryable error occurs.
func (s *Service) InitWithRetry(ctx context.Context, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		err := s.Init(ctx)
		if err == nil || errors.Is(err, domain.ErrMissingAddress) || errors.Is(err, domain.ErrClosed) {
			return err
		}
		s.logger.WarnContext(ctx, "contract init failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Contract returns the circuit interface when Ready.
func (s *Service) Contract() (Contract, error) {
	b, err := s.ready()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Ledger returns the ledger reader when Ready.
func (s *Service) Ledger() (LedgerReader, error) {
	b, err := s.ready()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the backend. Further calls return ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *Service) ready() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateReady:
		return s.backend, nil
	case StateClosed:
		return nil, domain.ErrClosed
	default:
		return nil, domain.ErrNotReady
	}
}
