package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusexmachina/authcore/permission"
)

// PermissionStore is an in-memory permission.Store.
type PermissionStore struct {
	mu    sync.Mutex
	state *grantTable
	now   func() time.Time
}

var _ permission.Store = (*PermissionStore)(nil)

// NewPermissionStore returns an empty store. A nil now uses time.Now.
func NewPermissionStore(now func() time.Time) *PermissionStore {
	if now == nil {
		now = time.Now
	}
	return &PermissionStore{state: newGrantTable(), now: now}
}

// InTx runs fn against a private copy of the table while holding the store
// lock. The copy replaces the table only if fn returns nil.
func (s *PermissionStore) InTx(ctx context.Context, fn func(ctx context.Context, tx permission.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &grantRepo{table: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *PermissionStore) run(fn func(r *grantRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&grantRepo{table: s.state, now: s.now})
}

func (s *PermissionStore) Create(ctx context.Context, p permission.Permission) (out *permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.Create(ctx, p)
		return err
	})
	return out, err
}

func (s *PermissionStore) FindByID(ctx context.Context, id string) (out *permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (s *PermissionStore) FindByResourceID(ctx context.Context, resourceID string) (out []permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.FindByResourceID(ctx, resourceID)
		return err
	})
	return out, err
}

func (s *PermissionStore) FindByUserID(ctx context.Context, userID string) (out []permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.FindByUserID(ctx, userID)
		return err
	})
	return out, err
}

func (s *PermissionStore) FindByUserAndResource(ctx context.Context, userID, resourceID string) (out *permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.FindByUserAndResource(ctx, userID, resourceID)
		return err
	})
	return out, err
}

func (s *PermissionStore) Update(ctx context.Context, p permission.Permission) (out *permission.Permission, err error) {
	err = s.run(func(r *grantRepo) error {
		out, err = r.Update(ctx, p)
		return err
	})
	return out, err
}

func (s *PermissionStore) DeleteByID(ctx context.Context, id string) (ok bool, err error) {
	err = s.run(func(r *grantRepo) error {
		ok, err = r.DeleteByID(ctx, id)
		return err
	})
	return ok, err
}

func (s *PermissionStore) DeleteByResourceID(ctx context.Context, resourceID string) (n int, err error) {
	err = s.run(func(r *grantRepo) error {
		n, err = r.DeleteByResourceID(ctx, resourceID)
		return err
	})
	return n, err
}

func (s *PermissionStore) DeleteByUserAndResource(ctx context.Context, userID, resourceID string) (n int, err error) {
	err = s.run(func(r *grantRepo) error {
		n, err = r.DeleteByUserAndResource(ctx, userID, resourceID)
		return err
	})
	return n, err
}

func (s *PermissionStore) FindHighestLevel(ctx context.Context, userID, resourceID string) (l permission.Level, ok bool, err error) {
	err = s.run(func(r *grantRepo) error {
		l, ok, err = r.FindHighestLevel(ctx, userID, resourceID)
		return err
	})
	return l, ok, err
}

func (s *PermissionStore) DeleteExpired(ctx context.Context) (n int, err error) {
	err = s.run(func(r *grantRepo) error {
		n, err = r.DeleteExpired(ctx)
		return err
	})
	return n, err
}

// grantTable holds grants by ID plus the pair, resource and user indexes.
type grantTable struct {
	byID       map[string]permission.Permission
	byPair     map[pairKey]string
	byResource map[string]map[string]struct{}
	byUser     map[string]map[string]struct{}
}

type pairKey struct {
	user     string
	resource string
}

func newGrantTable() *grantTable {
	return &grantTable{
		byID:       make(map[string]permission.Permission),
		byPair:     make(map[pairKey]string),
		byResource: make(map[string]map[string]struct{}),
		byUser:     make(map[string]map[string]struct{}),
	}
}

func (t *grantTable) clone() *grantTable {
	out := newGrantTable()
	for _, p := range t.byID {
		out.put(p.Clone())
	}
	return out
}

func (t *grantTable) put(p permission.Permission) {
	t.byID[p.ID] = p
	t.byPair[pairKey{p.GrantedTo, p.ResourceID}] = p.ID
	addIndex(t.byResource, p.ResourceID, p.ID)
	addIndex(t.byUser, p.GrantedTo, p.ID)
}

func (t *grantTable) remove(id string) bool {
	p, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	delete(t.byPair, pairKey{p.GrantedTo, p.ResourceID})
	dropIndex(t.byResource, p.ResourceID, id)
	dropIndex(t.byUser, p.GrantedTo, id)
	return true
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, key, id string) {
	set := idx[key]
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// grantRepo implements permission.Repository over a table the caller has
// already locked.
type grantRepo struct {
	table *grantTable
	now   func() time.Time
}

func (r *grantRepo) Create(_ context.Context, p permission.Permission) (*permission.Permission, error) {
	now := r.now()
	if id, ok := r.table.byPair[pairKey{p.GrantedTo, p.ResourceID}]; ok {
		if !r.table.byID[id].IsExpired(now) {
			return nil, permission.ErrDuplicate
		}
		r.table.remove(id)
	}

	g := p.Clone()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = now
	}
	r.table.put(g)

	out := g.Clone()
	return &out, nil
}

func (r *grantRepo) FindByID(_ context.Context, id string) (*permission.Permission, error) {
	p, ok := r.table.byID[id]
	if !ok {
		return nil, permission.ErrNotFound
	}
	out := p.Clone()
	return &out, nil
}

func (r *grantRepo) FindByResourceID(_ context.Context, resourceID string) ([]permission.Permission, error) {
	return r.live(r.table.byResource[resourceID]), nil
}

func (r *grantRepo) FindByUserID(_ context.Context, userID string) ([]permission.Permission, error) {
	return r.live(r.table.byUser[userID]), nil
}

func (r *grantRepo) FindByUserAndResource(_ context.Context, userID, resourceID string) (*permission.Permission, error) {
	id, ok := r.table.byPair[pairKey{userID, resourceID}]
	if !ok {
		return nil, nil
	}
	p := r.table.byID[id]
	if p.IsExpired(r.now()) {
		return nil, nil
	}
	out := p.Clone()
	return &out, nil
}

// Update replaces the grant with the same ID. The pair it belongs to cannot
// change.
func (r *grantRepo) Update(_ context.Context, p permission.Permission) (*permission.Permission, error) {
	prev, ok := r.table.byID[p.ID]
	if !ok {
		return nil, permission.ErrNotFound
	}
	g := prev.Replace(p)
	r.table.put(g)

	out := g.Clone()
	return &out, nil
}

func (r *grantRepo) DeleteByID(_ context.Context, id string) (bool, error) {
	return r.table.remove(id), nil
}

func (r *grantRepo) DeleteByResourceID(_ context.Context, resourceID string) (int, error) {
	n := 0
	for id := range r.table.byResource[resourceID] {
		if r.table.remove(id) {
			n++
		}
	}
	return n, nil
}

func (r *grantRepo) DeleteByUserAndResource(_ context.Context, userID, resourceID string) (int, error) {
	id, ok := r.table.byPair[pairKey{userID, resourceID}]
	if !ok {
		return 0, nil
	}
	if r.table.remove(id) {
		return 1, nil
	}
	return 0, nil
}

func (r *grantRepo) FindHighestLevel(ctx context.Context, userID, resourceID string) (permission.Level, bool, error) {
	p, err := r.FindByUserAndResource(ctx, userID, resourceID)
	if err != nil || p == nil {
		return "", false, err
	}
	l, ok := permission.Highest([]permission.Permission{*p}, r.now())
	return l, ok, nil
}

func (r *grantRepo) DeleteExpired(_ context.Context) (int, error) {
	now := r.now()
	var expired []string
	for id, p := range r.table.byID {
		if p.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.table.remove(id)
	}
	return len(expired), nil
}

// live returns unexpired grants for ids, ordered by GrantedAt then ID.
func (r *grantRepo) live(ids map[string]struct{}) []permission.Permission {
	now := r.now()
	out := make([]permission.Permission, 0, len(ids))
	for id := range ids {
		p := r.table.byID[id]
		if !p.IsExpired(now) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
