// Package memstore is an in-memory Entity Store. Transactions run one at a time against
// a cloned copy of the state, which replaces the committed state only when the callback
// succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"trustfund/internal/address"
	"trustfund/internal/model"
	"trustfund/internal/store"
)

// RecordedEvent is an outbox entry kept in memory.
type RecordedEvent struct {
	store.Event
	CreatedAt time.Time
}

type state struct {
	projects      map[address.Address]*model.Project
	milestones    map[address.Address]*model.Milestone
	mints         map[address.Address]*model.Mint
	tokenAccounts map[address.Address]*model.TokenAccount
	events        []RecordedEvent
}

func newState() state {
	return state{
		projects:      map[address.Address]*model.Project{},
		milestones:    map[address.Address]*model.Milestone{},
		mints:         map[address.Address]*model.Mint{},
		tokenAccounts: map[address.Address]*model.TokenAccount{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.projects {
		out.projects[k] = v.Clone()
	}
	for k, v := range s.milestones {
		out.milestones[k] = v.Clone()
	}
	for k, v := range s.mints {
		out.mints[k] = v.Clone()
	}
	for k, v := range s.tokenAccounts {
		out.tokenAccounts[k] = v.Clone()
	}
	out.events = append([]RecordedEvent(nil), s.events...)
	return out
}

// Store implements store.Store.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

func New() *Store {
	return &Store{state: newState(), nowFn: time.Now}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txn{state: s.state.clone(), now: s.nowFn()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(ctx, &txn{state: snapshot, now: s.nowFn()})
}

// Events returns the outbox entries committed so far.
func (s *Store) Events() []RecordedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordedEvent(nil), s.state.events...)
}

type txn struct {
	state state
	now   time.Time
}

func (t *txn) Project(_ context.Context, addr address.Address) (*model.Project, error) {
	p, ok := t.state.projects[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *txn) Milestone(_ context.Context, addr address.Address) (*model.Milestone, error) {
	m, ok := t.state.milestones[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (t *txn) Milestones(_ context.Context, project address.Address) ([]*model.Milestone, error) {
	var out []*model.Milestone
	for _, m := range t.state.milestones {
		if m.Project == project {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MilestoneID < out[j].MilestoneID })
	return out, nil
}

func (t *txn) Mint(_ context.Context, addr address.Address) (*model.Mint, error) {
	m, ok := t.state.mints[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (t *txn) TokenAccount(_ context.Context, addr address.Address) (*model.TokenAccount, error) {
	a, ok := t.state.tokenAccounts[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a.Clone(), nil
}

// An address is occupied when any record kind lives there.
func (t *txn) occupied(addr address.Address) bool {
	if _, ok := t.state.projects[addr]; ok {
		return true
	}
	if _, ok := t.state.milestones[addr]; ok {
		return true
	}
	if _, ok := t.state.mints[addr]; ok {
		return true
	}
	_, ok := t.state.tokenAccounts[addr]
	return ok
}

func (t *txn) CreateProject(_ context.Context, p *model.Project) error {
	if t.occupied(p.Address) {
		return store.ErrAlreadyExists
	}
	p.Version = 1
	t.state.projects[p.Address] = p.Clone()
	return nil
}

func (t *txn) UpdateProject(_ context.Context, p *model.Project) error {
	cur, ok := t.state.projects[p.Address]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != p.Version {
		return store.ErrConflict
	}
	p.Version++
	p.UpdatedAt = t.now
	t.state.projects[p.Address] = p.Clone()
	return nil
}

func (t *txn) CreateMilestone(_ context.Context, m *model.Milestone) error {
	if t.occupied(m.Address) {
		return store.ErrAlreadyExists
	}
	m.Version = 1
	t.state.milestones[m.Address] = m.Clone()
	return nil
}

func (t *txn) UpdateMilestone(_ context.Context, m *model.Milestone) error {
	cur, ok := t.state.milestones[m.Address]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != m.Version {
		return store.ErrConflict
	}
	m.Version++
	m.UpdatedAt = t.now
	t.state.milestones[m.Address] = m.Clone()
	return nil
}

func (t *txn) CreateMint(_ context.Context, m *model.Mint) error {
	if t.occupied(m.Address) {
		return store.ErrAlreadyExists
	}
	m.Version = 1
	t.state.mints[m.Address] = m.Clone()
	return nil
}

func (t *txn) UpdateMint(_ context.Context, m *model.Mint) error {
	cur, ok := t.state.mints[m.Address]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != m.Version {
		return store.ErrConflict
	}
	m.Version++
	m.UpdatedAt = t.now
	t.state.mints[m.Address] = m.Clone()
	return nil
}

func (t *txn) CreateTokenAccount(_ context.Context, a *model.TokenAccount) error {
	if t.occupied(a.Address) {
		return store.ErrAlreadyExists
	}
	a.Version = 1
	t.state.tokenAccounts[a.Address] = a.Clone()
	return nil
}

func (t *txn) UpdateTokenAccount(_ context.Context, a *model.TokenAccount) error {
	cur, ok := t.state.tokenAccounts[a.Address]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != a.Version {
		return store.ErrConflict
	}
	a.Version++
	a.UpdatedAt = t.now
	t.state.tokenAccounts[a.Address] = a.Clone()
	return nil
}

func (t *txn) AppendEvent(_ context.Context, e store.Event) error {
	t.state.events = append(t.state.events, RecordedEvent{Event: e, CreatedAt: t.now})
	return nil
}
