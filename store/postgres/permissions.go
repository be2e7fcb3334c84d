package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deusexmachina/authcore/permission"
)

const permissionColumns = `id, resource_id, resource_type, granted_to, granted_by, level,
	granted_at, expires_at, custom`

// PermissionStore is a permission.Store backed by the permissions table.
// Operations outside InTx run in autocommit mode.
type PermissionStore struct {
	*grantRepo
	db *sql.DB
}

var _ permission.Store = (*PermissionStore)(nil)

// NewPermissionStore wraps db. A nil now uses time.Now.
func NewPermissionStore(db *sql.DB, now func() time.Time) *PermissionStore {
	if now == nil {
		now = time.Now
	}
	return &PermissionStore{
		grantRepo: &grantRepo{q: db, now: now},
		db:        db,
	}
}

// InTx runs fn in one database transaction. The first lookup that touches a
// resource takes a transaction-scoped advisory lock on it, so units of work
// on the same resource run one at a time. Pair lookups also lock the row.
func (s *PermissionStore) InTx(ctx context.Context, fn func(ctx context.Context, tx permission.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	repo := &grantRepo{q: tx, now: s.now, lock: true, held: map[string]bool{}}
	if err := fn(ctx, repo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	return nil
}

type grantRepo struct {
	q    querier
	now  func() time.Time
	lock bool
	held map[string]bool
}

// lockResource takes the resource's advisory lock once per transaction.
// Outside InTx it does nothing.
func (r *grantRepo) lockResource(ctx context.Context, resourceID string) error {
	if !r.lock || r.held[resourceID] {
		return nil
	}
	if _, err := r.q.ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtext('permissions'), hashtext($1))`, resourceID); err != nil {
		return fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	r.held[resourceID] = true
	return nil
}

// Create inserts p, replacing an expired grant for the same pair.
func (r *grantRepo) Create(ctx context.Context, p permission.Permission) (*permission.Permission, error) {
	g := p.Clone()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if g.GrantedAt.IsZero() {
		g.GrantedAt = now
	}
	custom, err := encodeCustom(g.Custom)
	if err != nil {
		return nil, err
	}

	var id string
	err = r.q.QueryRowContext(ctx, `
		insert into permissions (`+permissionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (granted_to, resource_id) do update set
			id = excluded.id,
			resource_type = excluded.resource_type,
			granted_by = excluded.granted_by,
			level = excluded.level,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			custom = excluded.custom
		where permissions.expires_at is not null and permissions.expires_at <= $10
		returning id
	`,
		g.ID, g.ResourceID, string(g.ResourceType), g.GrantedTo, g.GrantedBy, string(g.Level),
		g.GrantedAt.UTC(), nullTime(g.ExpiresAt), custom, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}

	return &g, nil
}

// FindByID returns the grant with id. Inside InTx the grant is read again
// after its resource is locked, so the result reflects committed changes.
func (r *grantRepo) FindByID(ctx context.Context, id string) (*permission.Permission, error) {
	const query = `select ` + permissionColumns + ` from permissions where id = $1`
	grants, err := r.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, permission.ErrNotFound
	}
	if !r.lock || r.held[grants[0].ResourceID] {
		return &grants[0], nil
	}

	if err := r.lockResource(ctx, grants[0].ResourceID); err != nil {
		return nil, err
	}
	grants, err = r.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, permission.ErrNotFound
	}
	return &grants[0], nil
}

func (r *grantRepo) FindByResourceID(ctx context.Context, resourceID string) ([]permission.Permission, error) {
	if err := r.lockResource(ctx, resourceID); err != nil {
		return nil, err
	}
	return r.query(ctx, `
		select `+permissionColumns+` from permissions
		where resource_id = $1 and (expires_at is null or expires_at > $2)
		order by granted_at, id
	`, resourceID, r.now().UTC())
}

func (r *grantRepo) FindByUserID(ctx context.Context, userID string) ([]permission.Permission, error) {
	return r.query(ctx, `
		select `+permissionColumns+` from permissions
		where granted_to = $1 and (expires_at is null or expires_at > $2)
		order by granted_at, id
	`, userID, r.now().UTC())
}

func (r *grantRepo) FindByUserAndResource(ctx context.Context, userID, resourceID string) (*permission.Permission, error) {
	if err := r.lockResource(ctx, resourceID); err != nil {
		return nil, err
	}
	query := `
		select ` + permissionColumns + ` from permissions
		where granted_to = $1 and resource_id = $2 and (expires_at is null or expires_at > $3)`
	if r.lock {
		query += ` for update`
	}
	grants, err := r.query(ctx, query, userID, resourceID, r.now().UTC())
	if err != nil || len(grants) == 0 {
		return nil, err
	}
	return &grants[0], nil
}

// Update rewrites the mutable fields of the grant with p.ID.
func (r *grantRepo) Update(ctx context.Context, p permission.Permission) (*permission.Permission, error) {
	custom, err := encodeCustom(p.Custom)
	if err != nil {
		return nil, err
	}

	grants, err := r.query(ctx, `
		update permissions set
			resource_type = $2,
			granted_by = $3,
			level = $4,
			expires_at = $5,
			custom = $6
		where id = $1
		returning `+permissionColumns,
		p.ID, string(p.ResourceType), p.GrantedBy, string(p.Level), nullTime(p.ExpiresAt), custom,
	)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, permission.ErrNotFound
	}
	return &grants[0], nil
}

func (r *grantRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	n, err := r.exec(ctx, `delete from permissions where id = $1`, id)
	return n > 0, err
}

func (r *grantRepo) DeleteByResourceID(ctx context.Context, resourceID string) (int, error) {
	return r.exec(ctx, `delete from permissions where resource_id = $1`, resourceID)
}

func (r *grantRepo) DeleteByUserAndResource(ctx context.Context, userID, resourceID string) (int, error) {
	return r.exec(ctx, `delete from permissions where granted_to = $1 and resource_id = $2`, userID, resourceID)
}

func (r *grantRepo) FindHighestLevel(ctx context.Context, userID, resourceID string) (permission.Level, bool, error) {
	var level string
	err := r.q.QueryRowContext(ctx, `
		select level from permissions
		where granted_to = $1 and resource_id = $2 and (expires_at is null or expires_at > $3)
	`, userID, resourceID, r.now().UTC()).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	l := permission.Level(level)
	return l, l.Valid(), nil
}

func (r *grantRepo) DeleteExpired(ctx context.Context) (int, error) {
	return r.exec(ctx, `delete from permissions where expires_at is not null and expires_at <= $1`, r.now().UTC())
}

func (r *grantRepo) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	return int(n), nil
}

func (r *grantRepo) query(ctx context.Context, query string, args ...any) ([]permission.Permission, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	defer rows.Close()

	var result []permission.Permission
	for rows.Next() {
		var (
			p            permission.Permission
			resourceType string
			level        string
			expiresAt    sql.NullTime
			custom       []byte
		)
		if err := rows.Scan(&p.ID, &p.ResourceID, &resourceType, &p.GrantedTo, &p.GrantedBy, &level,
			&p.GrantedAt, &expiresAt, &custom); err != nil {
			return nil, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
		}
		p.ResourceType = permission.ResourceType(resourceType)
		p.Level = permission.Level(level)
		p.GrantedAt = p.GrantedAt.UTC()
		p.ExpiresAt = fromNullTime(expiresAt)
		if len(custom) > 0 {
			if err := json.Unmarshal(custom, &p.Custom); err != nil {
				return nil, fmt.Errorf("decode custom actions: %w", err)
			}
			if len(p.Custom) == 0 {
				p.Custom = nil
			}
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
	return result, nil
}

func encodeCustom(custom map[string]bool) ([]byte, error) {
	if custom == nil {
		custom = map[string]bool{}
	}
	b, err := json.Marshal(custom)
	if err != nil {
		return nil, fmt.Errorf("encode custom actions: %w", err)
	}
	return b, nil
}
