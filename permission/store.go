package permission

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a permission lookup by ID misses.
	ErrNotFound = errors.New("permission not found")
	// ErrDuplicate is returned by Create when the user already holds a live
	// grant on the resource.
	ErrDuplicate = errors.New("permission already granted")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("permission store unavailable")
)

// Repository is the set of grant operations. Finders other than FindByID skip
// expired grants.
//
// A store keeps at most one grant per (GrantedTo, ResourceID). Create
// replaces an expired grant for the pair and fails with ErrDuplicate when a
// live one exists.
type Repository interface {
	Create(ctx context.Context, p Permission) (*Permission, error)
	FindByID(ctx context.Context, id string) (*Permission, error)
	FindByResourceID(ctx context.Context, resourceID string) ([]Permission, error)
	FindByUserID(ctx context.Context, userID string) ([]Permission, error)
	// FindByUserAndResource returns nil, nil when the pair has no live grant.
	FindByUserAndResource(ctx context.Context, userID, resourceID string) (*Permission, error)
	Update(ctx context.Context, p Permission) (*Permission, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteByResourceID(ctx context.Context, resourceID string) (int, error)
	DeleteByUserAndResource(ctx context.Context, userID, resourceID string) (int, error)
	FindHighestLevel(ctx context.Context, userID, resourceID string) (Level, bool, error)
	DeleteExpired(ctx context.Context) (int, error)
}

// Store is a Repository that can run several operations as one unit.
type Store interface {
	Repository
	// InTx runs fn against a repository whose operations commit together or
	// not at all. Concurrent units touching the same grants are serialized.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
