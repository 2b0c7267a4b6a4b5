package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"varmatrix/internal/adapter"
	"varmatrix/internal/audit"
	"varmatrix/internal/matrix"
	"varmatrix/internal/metrics"
	"varmatrix/internal/model"
)

// submitClaimTTL bounds how long a crashed process can block submissions of
// a session in a shared store.
const submitClaimTTL = 5 * time.Minute

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager runs sessions against a host. Operations on one session are
// serialized, but the lock is released while the host is called, so a
// close can overtake a load or a submission; the epoch turns such late
// responses into no-ops.
type Manager struct {
	host  adapter.Host
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry

	logger  *slog.Logger
	journal audit.Journal
	metrics *metrics.Metrics
	newID   func() string
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithJournal records every submission, including ones whose session was
// closed before the host answered.
func WithJournal(j audit.Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithMetrics enables session and submission metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a Manager.
func NewManager(host adapter.Host, store Store, opts ...Option) *Manager {
	m := &Manager{
		host:   host,
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: slog.Default(),
		newID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

func (m *Manager) withLock(id string, fn func() error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()
	return fn()
}

// update loads the session, applies fn and saves the result. The session is
// saved even when fn returns a validation error so its notice survives.
func (m *Manager) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var (
		sess  *Session
		fnErr error
	)
	err := m.withLock(id, func() error {
		var err error
		sess, err = m.store.Get(ctx, id)
		if err != nil {
			return err
		}

		fnErr = fn(sess)
		if errors.Is(fnErr, ErrBusy) || errors.Is(fnErr, ErrInvalidTransition) || errors.Is(fnErr, ErrStaleResponse) {
			return nil
		}
		return m.store.Put(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, fnErr
}

// Open creates a session for productID and loads the product. A failed
// fetch is not an error of Open: the returned session is in StateError with
// the failure attached.
func (m *Manager) Open(ctx context.Context, productID int64) (*Session, error) {
	sess := New(m.newID())
	epoch, err := sess.Begin(productID)
	if err != nil {
		return nil, err
	}
	if err := m.withLock(sess.ID, func() error { return m.store.Put(ctx, sess) }); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.metrics.SessionEvent("opened")
	m.logger.InfoContext(ctx, "session opened",
		slog.String("session_id", sess.ID),
		slog.Int64("product_id", productID),
	)
	return m.load(ctx, sess.ID, productID, epoch)
}

// Reload fetches the product again for a closed or failed session.
func (m *Manager) Reload(ctx context.Context, id string) (*Session, error) {
	var (
		epoch     uint64
		productID int64
	)
	if _, err := m.update(ctx, id, func(s *Session) error {
		var err error
		epoch, err = s.Begin(s.ProductID)
		productID = s.ProductID
		return err
	}); err != nil {
		return nil, err
	}
	return m.load(ctx, id, productID, epoch)
}

func (m *Manager) load(ctx context.Context, id string, productID int64, epoch uint64) (*Session, error) {
	data, fetchErr := m.host.FetchProductData(ctx, productID)

	sess, err := m.update(context.WithoutCancel(ctx), id, func(s *Session) error {
		if fetchErr != nil {
			return s.LoadFailed(epoch, fetchErr)
		}
		return s.Loaded(epoch, data)
	})
	switch {
	case errors.Is(err, ErrStaleResponse), errors.Is(err, ErrNotFound):
		m.discarded(ctx, id, "load")
		return m.current(ctx, id, productID)
	case err != nil:
		return nil, err
	}

	if fetchErr != nil {
		m.metrics.SessionEvent("load_failed")
		m.logger.WarnContext(ctx, "session load failed",
			slog.String("session_id", id),
			slog.Int64("product_id", productID),
			slog.String("error", fetchErr.Error()),
		)
	} else {
		m.metrics.SessionEvent("loaded")
	}
	return sess, nil
}

// Get returns the current session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	var sess *Session
	err := m.withLock(id, func() error {
		var err error
		sess, err = m.store.Get(ctx, id)
		return err
	})
	return sess, err
}

// SelectAttribute assigns an attribute to an axis.
func (m *Manager) SelectAttribute(ctx context.Context, id string, role matrix.Role, name string) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		return s.SelectAttribute(role, name)
	})
}

// ToggleTerm checks or unchecks a term on an axis.
func (m *Manager) ToggleTerm(ctx context.Context, id string, role matrix.Role, slug string, checked bool) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		return s.ToggleTerm(role, slug, checked)
	})
}

// ToggleCell sets the desired state of a grid cell.
func (m *Manager) ToggleCell(ctx context.Context, id string, key matrix.CellKey, desired bool) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		return s.ToggleCell(key, desired)
	})
}

// Confirm submits the session's change set. Only one submission per
// session can be in flight; a second call returns ErrBusy. A host failure
// is not an error of Confirm: the session returns to editing with the
// failure attached.
//
// The per-session lock only covers this process. When the store is shared
// (Claimer), the submission is also claimed in the store so replicas cannot
// both move the same session to submitting.
func (m *Manager) Confirm(ctx context.Context, id string) (*Session, error) {
	if c, ok := m.store.(Claimer); ok {
		claimed, err := c.Claim(ctx, id, submitClaimTTL)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrBusy
		}
		defer func() {
			if err := c.Release(context.WithoutCancel(ctx), id); err != nil {
				m.logger.ErrorContext(ctx, "failed to release submission claim",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	var (
		cs        model.ChangeSet
		epoch     uint64
		productID int64
	)
	sess, err := m.update(ctx, id, func(s *Session) error {
		var err error
		cs, err = s.Confirm()
		epoch = s.Epoch
		productID = s.ProductID
		return err
	})
	if err != nil {
		return sess, err
	}

	m.logger.InfoContext(ctx, "submitting change set",
		slog.String("session_id", id),
		slog.Int64("product_id", productID),
		slog.Int("create", len(cs.Create)),
		slog.Int("delete", len(cs.Delete)),
	)
	result, submitErr := m.host.SubmitChangeSet(ctx, productID, cs)
	m.metrics.ObserveSubmission(audit.SourceSession, result, submitErr)

	// The host may have applied records even if the caller went away.
	ctx = context.WithoutCancel(ctx)

	sess, err = m.update(ctx, id, func(s *Session) error {
		if submitErr != nil {
			return s.SubmitFailed(epoch, submitErr)
		}
		return s.Submitted(epoch, result)
	})
	stale := errors.Is(err, ErrStaleResponse) || errors.Is(err, ErrNotFound)
	m.record(ctx, id, productID, cs, result, submitErr, stale)

	switch {
	case stale:
		m.discarded(ctx, id, "submit")
		return m.current(ctx, id, productID)
	case err != nil:
		return nil, err
	}

	if submitErr != nil {
		m.metrics.SessionEvent("submit_failed")
		m.logger.WarnContext(ctx, "submission failed",
			slog.String("session_id", id),
			slog.Int64("product_id", productID),
			slog.String("error", submitErr.Error()),
		)
		return sess, nil
	}

	m.metrics.SessionEvent("submitted")
	m.logger.InfoContext(ctx, "change set submitted",
		slog.String("session_id", id),
		slog.Int64("product_id", productID),
		slog.Int("created", len(result.Created)),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("failures", len(result.Failures)),
	)
	return sess, nil
}

// Close discards the session. Loads and submissions still in flight are
// dropped when they return.
func (m *Manager) Close(ctx context.Context, id string) error {
	err := m.withLock(id, func() error {
		if _, err := m.store.Get(ctx, id); err != nil {
			return err
		}
		return m.store.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	m.metrics.SessionEvent("closed")
	m.logger.InfoContext(ctx, "session closed", slog.String("session_id", id))
	return nil
}

func (m *Manager) record(ctx context.Context, id string, productID int64, cs model.ChangeSet, result *model.SubmitResult, submitErr error, stale bool) {
	if m.journal == nil {
		return
	}
	e := audit.NewEntry(productID, audit.SourceSession, cs, result, submitErr)
	e.SessionID = id
	e.Stale = stale
	if err := m.journal.Record(ctx, &e); err != nil {
		m.logger.ErrorContext(ctx, "failed to journal submission",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) discarded(ctx context.Context, id, op string) {
	m.metrics.SessionEvent("stale")
	m.logger.DebugContext(ctx, "discarded stale response",
		slog.String("session_id", id),
		slog.String("operation", op),
	)
}

// current returns the session after a discarded response. A session that
// was closed meanwhile is reported as a fresh closed value.
func (m *Manager) current(ctx context.Context, id string, productID int64) (*Session, error) {
	sess, err := m.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s := New(id)
		s.ProductID = productID
		s.touch()
		return s, nil
	}
	return sess, err
}
