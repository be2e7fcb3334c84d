package account

import "context"

// SecurityMutation computes new security settings from the current ones. It
// runs inside the store's atomic section and must not block.
type SecurityMutation func(current SecuritySettings) SecuritySettings

// Store persists users. Lookups return ErrNotFound when nothing matches.
type Store interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Save inserts or replaces user. A new user gets an ID and CreatedAt.
	Save(ctx context.Context, user User) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, id string, update Update) (*User, error)
	UpdateSecuritySettings(ctx context.Context, id string, settings SecuritySettings) error
	// MutateSecurity applies fn to the stored settings as one atomic
	// read-modify-write and returns the updated user.
	MutateSecurity(ctx context.Context, id string, fn SecurityMutation) (*User, error)
}
