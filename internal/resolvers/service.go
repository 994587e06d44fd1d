package resolvers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrConflict indicates that a record with the supplied id or unique key already exists.
	ErrConflict = errors.New("resolvers: conflict")
	// ErrReferenceNotFound indicates that a referenced user, document or annotation does not exist.
	ErrReferenceNotFound = errors.New("resolvers: referenced record not found")
	// ErrReplyCycle indicates that an inReplyTo chain would loop back to the annotation.
	ErrReplyCycle = errors.New("resolvers: reply cycle")
	// ErrUserExists indicates that sign-up targeted an email owned by a registered user.
	ErrUserExists = errors.New("resolvers: user already exists")
	// ErrInvalidInput indicates malformed input or filters.
	ErrInvalidInput = errors.New("resolvers: invalid input")

	errMissingStore = errors.New("store dependency is required")
	noOpLogger      = zap.NewNop()
)

// ServiceError wraps a resolver failure with the operation and reason that produced it.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable "operation.reason" identifier sent to clients.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opResolverNew = "resolvers.new"

	reasonConflict          = "conflict"
	reasonReferenceNotFound = "reference_not_found"
	reasonReplyCycle        = "reply_cycle"
	reasonUserExists        = "user_exists"
	reasonInvalidInput      = "invalid_input"
	reasonWriteTimeout      = "write_timeout"
	reasonStoreClosed       = "store_closed"
	reasonWriteCanceled     = "write_canceled"
	reasonContentWrite      = "content_write_failed"
	reasonStoreFailed       = "store_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StateStore is the part of store.Store the resolvers depend on.
type StateStore interface {
	Read(fn func(store.Snapshot) error) error
	Write(ctx context.Context, fn store.WriteFunc) error
}

// Config wires a Resolver. Store is required; the rest fall back to defaults.
type Config struct {
	Store  StateStore
	Clock  func() time.Time
	Logger *zap.Logger
	// BoundsMode selects how timestamp bounds in list filters combine.
	BoundsMode query.BoundsMode
}

// Resolver is the business-rule surface over the store.
// It never keeps entity references between calls; every call reads a fresh snapshot or queues a write.
type Resolver struct {
	store      StateStore
	clock      func() time.Time
	logger     *zap.Logger
	boundsMode query.BoundsMode
}

// New validates cfg and returns a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opResolverNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		store:      cfg.Store,
		clock:      clock,
		logger:     logger,
		boundsMode: cfg.BoundsMode,
	}, nil
}

// DeleteResult reports whether a delete found and removed a record.
type DeleteResult struct {
	Successful bool `json:"successful"`
}

func (r *Resolver) nowMillis() int64 {
	return r.clock().UTC().UnixMilli()
}

func (r *Resolver) read(operation string, fn func(store.Snapshot) error) error {
	if err := r.store.Read(fn); err != nil {
		reason := reasonFor(err)
		r.logError(operation, reason, err)
		return newServiceError(operation, reason, err)
	}
	return nil
}

func (r *Resolver) write(ctx context.Context, operation string, fn store.WriteFunc) error {
	if err := r.store.Write(ctx, fn); err != nil {
		reason := reasonFor(err)
		r.logError(operation, reason, err)
		return newServiceError(operation, reason, err)
	}
	return nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return reasonConflict
	case errors.Is(err, ErrReferenceNotFound):
		return reasonReferenceNotFound
	case errors.Is(err, ErrReplyCycle):
		return reasonReplyCycle
	case errors.Is(err, ErrUserExists):
		return reasonUserExists
	case errors.Is(err, ErrInvalidInput):
		return reasonInvalidInput
	case errors.Is(err, errContentWrite):
		return reasonContentWrite
	case errors.Is(err, store.ErrWriteTimeout):
		return reasonWriteTimeout
	case errors.Is(err, store.ErrClosed):
		return reasonStoreClosed
	case errors.Is(err, store.ErrWriteCanceled), errors.Is(err, context.Canceled):
		return reasonWriteCanceled
	}
	return reasonStoreFailed
}

// invalid wraps validation failures from model and query so callers can match ErrInvalidInput.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func (r *Resolver) loggerOrDefault() *zap.Logger {
	if r == nil {
		return noOpLogger
	}
	if r.logger == nil {
		return noOpLogger
	}
	return r.logger
}

func (r *Resolver) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := r.loggerOrDefault()
	switch reason {
	case reasonConflict, reasonReferenceNotFound, reasonReplyCycle, reasonUserExists, reasonInvalidInput:
		logger.Info("resolver rejected request", attrs...)
	default:
		logger.Error("resolver error", attrs...)
	}
}

func userExists(users []model.User, id string) bool {
	return query.Index(users, id) != -1
}

func documentExists(documents []model.Document, id string) bool {
	return query.Index(documents, id) != -1
}

// assignID returns the supplied id after checking it is unused, or a fresh one.
func assignID[T model.Record](items []T, supplied string, ids store.IDProvider) (string, error) {
	if supplied != "" {
		if query.Index(items, supplied) != -1 {
			return "", fmt.Errorf("%w: id %s already exists", ErrConflict, supplied)
		}
		return supplied, nil
	}
	return ids.NewID()
}

func removeAt[T any](items []T, index int) []T {
	return append(items[:index], items[index+1:]...)
}
