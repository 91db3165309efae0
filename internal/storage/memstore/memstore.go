// Package memstore is an in-memory storage.Store used by service tests.
// It enforces the same uniqueness rules as the Postgres schema and supports
// WithTx with full rollback.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/google/uuid"
)

type state struct {
	users    map[uuid.UUID]models.User
	packages map[uuid.UUID]models.Package
	rides    map[uuid.UUID]models.Ride
	matches  map[uuid.UUID]models.Match
	events   []models.TrackingEvent
	payments map[uuid.UUID]models.Payment
	outbox   []models.OutboxEvent
}

func newState() *state {
	return &state{
		users:    map[uuid.UUID]models.User{},
		packages: map[uuid.UUID]models.Package{},
		rides:    map[uuid.UUID]models.Ride{},
		matches:  map[uuid.UUID]models.Match{},
		payments: map[uuid.UUID]models.Payment{},
	}
}

func cloneMap[V any](in map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:    cloneMap(s.users),
		packages: cloneMap(s.packages),
		rides:    cloneMap(s.rides),
		matches:  cloneMap(s.matches),
		events:   append([]models.TrackingEvent(nil), s.events...),
		payments: cloneMap(s.payments),
		outbox:   append([]models.OutboxEvent(nil), s.outbox...),
	}
}

type repo struct {
	mu    *sync.Mutex
	st    **state
	hooks *hooks
	inTx  bool
}

type hooks struct {
	failOutbox error
}

// guard locks the store for a single call made outside a transaction.
// Inside WithTx the lock is already held.
func (r *repo) guard() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *repo) s() *state { return *r.st }

type Store struct {
	*repo
}

func New() *Store {
	st := newState()
	return &Store{repo: &repo{mu: &sync.Mutex{}, st: &st, hooks: &hooks{}}}
}

// FailOutbox makes every following EnqueueOutbox return err, so tests can
// check that a failed emit rolls back the surrounding transaction.
func (s *Store) FailOutbox(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.failOutbox = err
}

var _ storage.Store = (*Store)(nil)
var _ storage.OutboxQueue = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.s().clone()
	tx := &repo{mu: s.mu, st: s.st, hooks: s.hooks, inTx: true}
	if err := fn(tx); err != nil {
		*s.st = snapshot
		return err
	}
	return ctx.Err()
}

func (r *repo) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer r.guard()()
	u, ok := r.s().users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (r *repo) UpsertUser(_ context.Context, u *models.User) error {
	defer r.guard()()
	if prev, ok := r.s().users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	r.s().users[u.ID] = *u
	return nil
}

func (r *repo) CreatePackage(_ context.Context, p *models.Package) error {
	defer r.guard()()
	if _, ok := r.s().packages[p.ID]; ok {
		return storage.ErrConflict
	}
	r.s().packages[p.ID] = *p
	return nil
}

func (r *repo) GetPackage(_ context.Context, id uuid.UUID) (*models.Package, error) {
	defer r.guard()()
	p, ok := r.s().packages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (r *repo) LockPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	return r.GetPackage(ctx, id)
}

func (r *repo) UpdatePackage(_ context.Context, p *models.Package) error {
	defer r.guard()()
	if _, ok := r.s().packages[p.ID]; !ok {
		return storage.ErrNotFound
	}
	r.s().packages[p.ID] = *p
	return nil
}

func (r *repo) CreateRide(_ context.Context, ride *models.Ride) error {
	defer r.guard()()
	if _, ok := r.s().rides[ride.ID]; ok {
		return storage.ErrConflict
	}
	r.s().rides[ride.ID] = *ride
	return nil
}

func (r *repo) GetRide(_ context.Context, id uuid.UUID) (*models.Ride, error) {
	defer r.guard()()
	ride, ok := r.s().rides[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ride, nil
}

func (r *repo) UpdateRideStatus(_ context.Context, id uuid.UUID, status models.RideStatus) error {
	defer r.guard()()
	ride, ok := r.s().rides[id]
	if !ok {
		return storage.ErrNotFound
	}
	ride.Status = status
	r.s().rides[id] = ride
	return nil
}

// activeConflict mirrors ux_matches_active_package.
func (r *repo) activeConflict(m *models.Match) bool {
	if !m.Status.IsActive() {
		return false
	}
	for id, other := range r.s().matches {
		if id != m.ID && other.PackageID == m.PackageID && other.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *repo) withCarrier(m models.Match) *models.Match {
	if ride, ok := r.s().rides[m.RideID]; ok {
		m.CarrierID = ride.UserID
	}
	return &m
}

func (r *repo) CreateMatch(_ context.Context, m *models.Match) error {
	defer r.guard()()
	if _, ok := r.s().matches[m.ID]; ok {
		return storage.ErrConflict
	}
	if _, ok := r.s().packages[m.PackageID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := r.s().rides[m.RideID]; !ok {
		return storage.ErrNotFound
	}
	if r.activeConflict(m) {
		return storage.ErrConflict
	}
	r.s().matches[m.ID] = *m
	return nil
}

func (r *repo) GetMatch(_ context.Context, id uuid.UUID) (*models.Match, error) {
	defer r.guard()()
	m, ok := r.s().matches[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.withCarrier(m), nil
}

func (r *repo) UpdateMatch(_ context.Context, m *models.Match) error {
	defer r.guard()()
	prev, ok := r.s().matches[m.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if r.activeConflict(m) {
		return storage.ErrConflict
	}
	next := *m
	next.PackageID, next.RideID = prev.PackageID, prev.RideID
	next.IsRelaySegment = prev.IsRelaySegment
	next.CreatedAt = prev.CreatedAt
	r.s().matches[m.ID] = next
	return nil
}

func (r *repo) ListMatchesByPackage(_ context.Context, packageID uuid.UUID) ([]*models.Match, error) {
	defer r.guard()()
	var out []*models.Match
	for _, m := range r.s().matches {
		if m.PackageID == packageID {
			out = append(out, r.withCarrier(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentOrder != out[j].SegmentOrder {
			return out[i].SegmentOrder < out[j].SegmentOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) ListMatches(_ context.Context, f models.MatchFilter) ([]*models.Match, error) {
	defer r.guard()()
	var out []*models.Match
	for _, raw := range r.s().matches {
		m := r.withCarrier(raw)
		if f.CarrierID != nil && m.CarrierID != *f.CarrierID {
			continue
		}
		if f.SenderID != nil {
			p, ok := r.s().packages[m.PackageID]
			if !ok || p.SenderID != *f.SenderID {
				continue
			}
		}
		if f.Status != nil && m.Status != *f.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *repo) AppendTrackingEvent(_ context.Context, e *models.TrackingEvent) error {
	defer r.guard()()
	r.s().events = append(r.s().events, *e)
	return nil
}

func (r *repo) ListTrackingEvents(_ context.Context, packageID uuid.UUID) ([]*models.TrackingEvent, error) {
	defer r.guard()()
	var out []*models.TrackingEvent
	for i := range r.s().events {
		if r.s().events[i].PackageID == packageID {
			e := r.s().events[i]
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *repo) CreatePayment(_ context.Context, p *models.Payment) error {
	defer r.guard()()
	for _, other := range r.s().payments {
		if other.ID == p.ID || other.MatchID == p.MatchID {
			return storage.ErrConflict
		}
	}
	r.s().payments[p.ID] = *p
	return nil
}

func (r *repo) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	defer r.guard()()
	p, ok := r.s().payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (r *repo) GetPaymentByMatch(_ context.Context, matchID uuid.UUID) (*models.Payment, error) {
	defer r.guard()()
	for _, p := range r.s().payments {
		if p.MatchID == matchID {
			return &p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *repo) UpdatePayment(_ context.Context, p *models.Payment) error {
	defer r.guard()()
	prev, ok := r.s().payments[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	next := *p
	next.MatchID, next.UserID, next.CreatedAt = prev.MatchID, prev.UserID, prev.CreatedAt
	r.s().payments[p.ID] = next
	return nil
}

func (r *repo) HasCompletedPayment(_ context.Context, packageID uuid.UUID) (bool, error) {
	defer r.guard()()
	for _, p := range r.s().payments {
		if p.Status != models.PaymentStatusCompleted {
			continue
		}
		if m, ok := r.s().matches[p.MatchID]; ok && m.PackageID == packageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *repo) ListStalePendingPayments(_ context.Context, updatedBefore time.Time, limit int) ([]*models.Payment, error) {
	defer r.guard()()
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Payment
	for _, p := range r.s().payments {
		if p.Status == models.PaymentStatusPending && !p.UpdatedAt.After(updatedBefore) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *repo) EnqueueOutbox(_ context.Context, e *models.OutboxEvent) error {
	defer r.guard()()
	if r.hooks.failOutbox != nil {
		return r.hooks.failOutbox
	}
	r.s().outbox = append(r.s().outbox, *e)
	return nil
}

func (s *Store) findOutbox(id uuid.UUID) (*models.OutboxEvent, error) {
	for i := range s.s().outbox {
		if s.s().outbox[i].ID == id {
			return &s.s().outbox[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ClaimDueOutbox(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.OutboxEvent
	for i := range s.s().outbox {
		e := &s.s().outbox[i]
		if e.PublishedAt != nil || e.NextAttemptAt.After(now) {
			continue
		}
		if limit > 0 && len(due) == limit {
			break
		}
		e.NextAttemptAt = now.Add(lease)
		claimed := *e
		due = append(due, &claimed)
	}
	return due, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.findOutbox(id)
	if err != nil {
		return err
	}
	e.Attempts++
	e.PublishedAt = &at
	e.LastError = nil
	return nil
}

func (s *Store) MarkOutboxFailed(_ context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.findOutbox(id)
	if err != nil {
		return err
	}
	e.Attempts++
	e.LastError = &lastError
	e.NextAttemptAt = nextAttemptAt
	return nil
}

// Outbox returns every enqueued event in enqueue order.
func (s *Store) Outbox() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.s().outbox...)
}

// OutboxTypes returns the event types in enqueue order.
func (s *Store) OutboxTypes() []string {
	var types []string
	for _, e := range s.Outbox() {
		types = append(types, e.EventType)
	}
	return types
}
