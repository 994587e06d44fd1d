package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWriteTimeout = 30 * time.Second
	defaultQueueSize    = 64
)

var (
	// ErrClosed is returned by Write once Close has been called.
	ErrClosed = errors.New("store: closed")
	// ErrWriteTimeout is returned when a write callback outlives the configured timeout.
	ErrWriteTimeout = errors.New("store: write callback timed out")
	// ErrNilState is returned when a write callback returns no state.
	ErrNilState = errors.New("store: write callback returned nil state")
	// ErrWriteCanceled is returned when the caller's context ended before the write ran.
	ErrWriteCanceled = errors.New("store: write canceled before start")

	errMissingPersister = errors.New("store: persister is required")
)

// WriteFunc receives a private working copy of the committed state and returns the state to commit.
// It may block on I/O; no other write runs until it returns.
type WriteFunc func(ctx context.Context, working *State, ids IDProvider) (*State, error)

// Config describes the dependencies of a Store.
type Config struct {
	Persister  Persister
	IDProvider IDProvider
	// WriteTimeout bounds each write callback. Zero uses the default, negative disables it.
	WriteTimeout time.Duration
	QueueSize    int
	Logger       *zap.Logger
}

type committed struct {
	state   *State
	version int64
}

type writeRequest struct {
	ctx   context.Context
	fn    WriteFunc
	reply chan error
	// claimed is set by whichever side takes the request first: the consumer to run it,
	// or the caller to abandon it.
	claimed atomic.Bool
}

// Store owns the canonical state of all collections.
// Reads see the last committed state without waiting; writes go through one FIFO consumer.
type Store struct {
	persister    Persister
	ids          IDProvider
	writeTimeout time.Duration
	logger       *zap.Logger

	current  atomic.Pointer[committed]
	requests chan *writeRequest
	done     chan struct{}
	stopped  chan struct{}
	closer   sync.Once
}

// New loads the persisted state and starts the write consumer.
// Missing durable state is initialized empty and persisted immediately.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Persister == nil {
		return nil, errMissingPersister
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = defaultWriteTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	state, ok, err := cfg.Persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load state: %w", err)
	}
	if !ok {
		state = NewState()
		if err := cfg.Persister.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("store: initialize state: %w", err)
		}
		logger.Info("store initialized empty state")
	}

	s := &Store{
		persister:    cfg.Persister,
		ids:          ids,
		writeTimeout: timeout,
		logger:       logger,
		requests:     make(chan *writeRequest, queueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	s.current.Store(&committed{state: state.Clone()})
	go s.run()
	return s, nil
}

// Read calls fn with a snapshot of the last committed state. It never waits for writers.
func (s *Store) Read(fn func(Snapshot) error) error {
	current := s.current.Load()
	return fn(Snapshot{state: current.state, version: current.version})
}

// Snapshot returns the last committed state.
func (s *Store) Snapshot() Snapshot {
	current := s.current.Load()
	return Snapshot{state: current.state, version: current.version}
}

// Version reports how many writes have been committed since the store was opened.
func (s *Store) Version() int64 {
	return s.current.Load().version
}

// Write queues fn behind every earlier write and waits until it has been committed and persisted,
// or discarded. On any error the committed state is unchanged.
// A caller whose ctx ends before its write starts gets ErrWriteCanceled without waiting further;
// once the write has started, Write waits for its outcome.
func (s *Store) Write(ctx context.Context, fn WriteFunc) error {
	if fn == nil {
		return ErrNilState
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteCanceled, err)
	}
	request := &writeRequest{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.requests <- request:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWriteCanceled, ctx.Err())
	}

	select {
	case err := <-request.reply:
		return err
	case <-ctx.Done():
		if request.claimed.CompareAndSwap(false, true) {
			return fmt.Errorf("%w: %v", ErrWriteCanceled, ctx.Err())
		}
		return <-request.reply
	case <-s.stopped:
		// The consumer replies before it exits, so a missing reply means the request was never taken.
		select {
		case err := <-request.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops the write consumer after the in-flight write. Queued writes fail with ErrClosed.
func (s *Store) Close() error {
	s.closer.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}

func (s *Store) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case request := <-s.requests:
			request.reply <- s.apply(request)
		}
	}
}

func (s *Store) drain() {
	for {
		select {
		case request := <-s.requests:
			request.reply <- ErrClosed
		default:
			return
		}
	}
}

type writeResult struct {
	state *State
	err   error
}

func (s *Store) apply(request *writeRequest) error {
	if !request.claimed.CompareAndSwap(false, true) {
		return ErrWriteCanceled
	}
	if err := request.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteCanceled, err)
	}

	ctx := request.ctx
	cancel := func() {}
	if s.writeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
	}
	defer cancel()

	base := s.current.Load()
	working := base.state.Clone()

	results := make(chan writeResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- writeResult{err: fmt.Errorf("store: write callback panicked: %v", recovered)}
			}
		}()
		next, err := request.fn(ctx, working, s.ids)
		results <- writeResult{state: next, err: err}
	}()

	var result writeResult
	select {
	case result = <-results:
	case <-ctx.Done():
		// The callback keeps its private working copy; whatever it returns later is dropped.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && request.ctx.Err() == nil {
			s.logger.Warn("store write timed out", zap.Duration("timeout", s.writeTimeout))
			return ErrWriteTimeout
		}
		return ctx.Err()
	}

	if result.err != nil {
		s.logger.Debug("store write discarded", zap.Error(result.err))
		return result.err
	}
	if result.state == nil {
		return ErrNilState
	}

	next := result.state.Clone()
	if err := s.persister.Save(context.WithoutCancel(request.ctx), next); err != nil {
		s.logger.Error("store persist failed", zap.Error(err))
		return fmt.Errorf("store: persist state: %w", err)
	}
	version := base.version + 1
	s.current.Store(&committed{state: next, version: version})
	s.logger.Debug("store write committed", zap.Int64("version", version))
	return nil
}
