package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deusexmachina/authcore/account"
)

const userColumns = `id, email, password_hash, display_name, provider, email_verified,
	created_at, updated_at, linked_providers, mfa_enabled, mfa_secret,
	last_password_change, failed_login_attempts, lockout_until`

// UserStore is an account.Store backed by the users table.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ account.Store = (*UserStore)(nil)

// NewUserStore wraps db. A nil now uses time.Now.
func NewUserStore(db *sql.DB, now func() time.Time) *UserStore {
	if now == nil {
		now = time.Now
	}
	return &UserStore{db: db, now: now}
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*account.User, error) {
	return s.findOne(ctx, s.db, `select `+userColumns+` from users where id = $1`, id)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.findOne(ctx, s.db, `select `+userColumns+` from users where email = $1`, account.NormalizeEmail(email))
}

func (s *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`,
		account.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	return exists, nil
}

// Save upserts user by ID. CreatedAt of an existing row is preserved.
func (s *UserStore) Save(ctx context.Context, user account.User) (*account.User, error) {
	u := user.Clone()
	u.Email = account.NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	linked, err := json.Marshal(nonNil(u.LinkedProviders))
	if err != nil {
		return nil, fmt.Errorf("encode linked providers: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		on conflict (id) do update set
			email = excluded.email,
			password_hash = excluded.password_hash,
			display_name = excluded.display_name,
			provider = excluded.provider,
			email_verified = excluded.email_verified,
			updated_at = excluded.updated_at,
			linked_providers = excluded.linked_providers,
			mfa_enabled = excluded.mfa_enabled,
			mfa_secret = excluded.mfa_secret,
			last_password_change = excluded.last_password_change,
			failed_login_attempts = excluded.failed_login_attempts,
			lockout_until = excluded.lockout_until
		returning created_at
	`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Provider), u.EmailVerified,
		u.CreatedAt, u.UpdatedAt, linked, u.Security.MFAEnabled, u.Security.MFASecret,
		nullTime(u.Security.LastPasswordChange), u.Security.FailedLoginAttempts, nullTime(u.Security.LockoutUntil),
	).Scan(&u.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, account.ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()

	return &u, nil
}

func (s *UserStore) Update(ctx context.Context, id string, update account.Update) (*account.User, error) {
	return s.modify(ctx, id, update.Apply)
}

func (s *UserStore) UpdateSecuritySettings(ctx context.Context, id string, settings account.SecuritySettings) error {
	_, err := s.Update(ctx, id, account.Update{Security: &settings})
	return err
}

// MutateSecurity locks the row with SELECT ... FOR UPDATE for the duration
// of fn.
func (s *UserStore) MutateSecurity(ctx context.Context, id string, fn account.SecurityMutation) (*account.User, error) {
	return s.modify(ctx, id, func(u account.User) account.User {
		return u.WithSecurity(fn(u.Security))
	})
}

func (s *UserStore) modify(ctx context.Context, id string, fn func(account.User) account.User) (*account.User, error) {
	var out *account.User
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.findOne(ctx, tx, `select `+userColumns+` from users where id = $1 for update`, id)
		if err != nil {
			return err
		}

		next := fn(*current)
		next.UpdatedAt = s.now().UTC()

		linked, err := json.Marshal(nonNil(next.LinkedProviders))
		if err != nil {
			return fmt.Errorf("encode linked providers: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			update users set
				display_name = $2,
				email_verified = $3,
				password_hash = $4,
				linked_providers = $5,
				mfa_enabled = $6,
				mfa_secret = $7,
				last_password_change = $8,
				failed_login_attempts = $9,
				lockout_until = $10,
				updated_at = $11
			where id = $1
		`,
			id, next.DisplayName, next.EmailVerified, next.PasswordHash, linked,
			next.Security.MFAEnabled, next.Security.MFASecret, nullTime(next.Security.LastPasswordChange),
			next.Security.FailedLoginAttempts, nullTime(next.Security.LockoutUntil), next.UpdatedAt,
		)
		if err != nil {
			return err
		}

		out = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	return out, nil
}

func (s *UserStore) findOne(ctx context.Context, q querier, query string, args ...any) (*account.User, error) {
	var (
		u                  account.User
		provider           string
		linked             []byte
		lastPasswordChange sql.NullTime
		lockoutUntil       sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &provider, &u.EmailVerified,
		&u.CreatedAt, &u.UpdatedAt, &linked, &u.Security.MFAEnabled, &u.Security.MFASecret,
		&lastPasswordChange, &u.Security.FailedLoginAttempts, &lockoutUntil,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}

	u.Provider = account.Provider(provider)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.Security.LastPasswordChange = fromNullTime(lastPasswordChange)
	u.Security.LockoutUntil = fromNullTime(lockoutUntil)
	if len(linked) > 0 {
		if err := json.Unmarshal(linked, &u.LinkedProviders); err != nil {
			return nil, fmt.Errorf("decode linked providers: %w", err)
		}
	}
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
