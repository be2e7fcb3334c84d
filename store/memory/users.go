package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusexmachina/authcore/account"
)

// UserStore is an in-memory account.Store.
type UserStore struct {
	mu      sync.Mutex
	byID    map[string]account.User
	byEmail map[string]string
	now     func() time.Time
}

var _ account.Store = (*UserStore)(nil)

// NewUserStore returns an empty store. A nil now uses time.Now.
func NewUserStore(now func() time.Time) *UserStore {
	if now == nil {
		now = time.Now
	}
	return &UserStore{
		byID:    make(map[string]account.User),
		byEmail: make(map[string]string),
		now:     now,
	}
}

func (s *UserStore) FindByID(_ context.Context, id string) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	out := u.Clone()
	return &out, nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[account.NormalizeEmail(email)]
	if !ok {
		return nil, account.ErrNotFound
	}
	out := s.byID[id].Clone()
	return &out, nil
}

func (s *UserStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byEmail[account.NormalizeEmail(email)]
	return ok, nil
}

// Save inserts or replaces user. The email is normalised and must not belong
// to another user.
func (s *UserStore) Save(_ context.Context, user account.User) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u := user.Clone()
	u.Email = account.NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if owner, ok := s.byEmail[u.Email]; ok && owner != u.ID {
		return nil, account.ErrEmailTaken
	}

	if prev, ok := s.byID[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
		if prev.Email != u.Email {
			delete(s.byEmail, prev.Email)
		}
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID

	out := u.Clone()
	return &out, nil
}

func (s *UserStore) Update(_ context.Context, id string, update account.Update) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	if update.Empty() {
		out := u.Clone()
		return &out, nil
	}

	u = update.Apply(u)
	u.UpdatedAt = s.now()
	s.byID[id] = u

	out := u.Clone()
	return &out, nil
}

func (s *UserStore) UpdateSecuritySettings(ctx context.Context, id string, settings account.SecuritySettings) error {
	_, err := s.Update(ctx, id, account.Update{Security: &settings})
	return err
}

// MutateSecurity holds the store lock while fn runs.
func (s *UserStore) MutateSecurity(_ context.Context, id string, fn account.SecurityMutation) (*account.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}

	u = u.WithSecurity(fn(u.Security))
	u.UpdatedAt = s.now()
	s.byID[id] = u

	out := u.Clone()
	return &out, nil
}
