package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/deusexmachina/authcore/permission"
)

// grantAttempts bounds how often a grant is retried after losing a
// concurrent create for the same user and resource.
const grantAttempts = 3

// CheckPermission reports whether userID may perform action on resourceID.
// Expired grants never allow anything.
func (e *Engine) CheckPermission(ctx context.Context, userID, resourceID, action string) (bool, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if userID == "" || resourceID == "" || action == "" {
		return false, ErrInvalidRequest
	}

	grant, err := e.permissions.FindByUserAndResource(ctx, userID, resourceID)
	if err != nil {
		return false, internalError(err)
	}
	if grant == nil || !grant.HasPermission(action) {
		e.metricInc(MetricPermissionDenied)
		return false, nil
	}
	return true, nil
}

// HasCustomPermission reports whether userID's live grant on resourceID
// carries the named custom flag. Custom flags never affect CheckPermission.
func (e *Engine) HasCustomPermission(ctx context.Context, userID, resourceID, name string) (bool, error) {
	if userID == "" || resourceID == "" || name == "" {
		return false, ErrInvalidRequest
	}

	grant, err := e.permissions.FindByUserAndResource(ctx, userID, resourceID)
	if err != nil {
		return false, internalError(err)
	}
	return grant != nil && grant.HasCustom(name), nil
}

// HasPermissionLevel reports whether userID holds at least level on resourceID.
func (e *Engine) HasPermissionLevel(ctx context.Context, userID, resourceID string, level permission.Level) (bool, error) {
	if userID == "" || resourceID == "" || !level.Valid() {
		return false, ErrInvalidRequest
	}

	held, ok, err := e.permissions.FindHighestLevel(ctx, userID, resourceID)
	if err != nil {
		return false, internalError(err)
	}
	return ok && held.AtLeast(level), nil
}

// EffectiveLevel returns the level userID holds on resourceID, or false when
// there is no live grant.
func (e *Engine) EffectiveLevel(ctx context.Context, userID, resourceID string) (permission.Level, bool, error) {
	level, ok, err := e.permissions.FindHighestLevel(ctx, userID, resourceID)
	if err != nil {
		return "", false, internalError(err)
	}
	return level, ok, nil
}

// ResourcePermissions lists the live grants on resourceID.
func (e *Engine) ResourcePermissions(ctx context.Context, resourceID string) ([]permission.Permission, error) {
	grants, err := e.permissions.FindByResourceID(ctx, resourceID)
	if err != nil {
		return nil, internalError(err)
	}
	return grants, nil
}

// UserPermissions lists the live grants held by userID.
func (e *Engine) UserPermissions(ctx context.Context, userID string) ([]permission.Permission, error) {
	grants, err := e.permissions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, internalError(err)
	}
	return grants, nil
}

// GrantPermission gives req.GrantedTo req.Level on req.ResourceID. The
// granter must hold share on the resource. A live grant for the same pair is
// replaced in place and keeps its ID and GrantedAt. Lowering the only OWNER
// grant on a resource fails with ErrForbidden; use TransferOwnership.
func (e *Engine) GrantPermission(ctx context.Context, req GrantRequest) (string, error) {
	if err := e.validateGrant(req); err != nil {
		return "", err
	}

	var (
		id  string
		err error
	)
	for attempt := 0; attempt < grantAttempts; attempt++ {
		id, err = e.grantOnce(ctx, req)
		if !errors.Is(err, permission.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			e.metricInc(MetricPermissionDenied)
		}
		e.emitAudit(ctx, auditEventPermissionGranted, false, grantFields(req, ""), err)
		return "", e.authzError(err)
	}

	e.metricInc(MetricPermissionGranted)
	e.emitAudit(ctx, auditEventPermissionGranted, true, grantFields(req, id), nil)
	e.logger.Debug().
		Str("resource_id", req.ResourceID).
		Str("granted_to", req.GrantedTo).
		Str("level", string(req.Level)).
		Msg("permission granted")
	return id, nil
}

func (e *Engine) validateGrant(req GrantRequest) error {
	switch {
	case req.ResourceID == "" || req.GrantedTo == "" || req.GrantedBy == "":
		return fmt.Errorf("%w: resource, grantee and granter are required", ErrInvalidRequest)
	case !req.Level.Valid():
		return fmt.Errorf("%w: unknown level %q", ErrInvalidRequest, req.Level)
	case !req.ResourceType.Valid():
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, req.ResourceType)
	case !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(e.now()):
		return fmt.Errorf("%w: expiry is in the past", ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) grantOnce(ctx context.Context, req GrantRequest) (string, error) {
	grant := permission.Permission{
		ID:           uuid.NewString(),
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		GrantedTo:    req.GrantedTo,
		GrantedBy:    req.GrantedBy,
		Level:        req.Level,
		GrantedAt:    e.now(),
		ExpiresAt:    req.ExpiresAt,
		Custom:       req.Custom,
	}

	var id string
	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		if err := requireShare(ctx, tx, req.GrantedBy, req.ResourceID); err != nil {
			return err
		}

		existing, err := tx.FindByUserAndResource(ctx, req.GrantedTo, req.ResourceID)
		if err != nil {
			return err
		}
		if existing == nil {
			created, err := tx.Create(ctx, grant)
			if err != nil {
				return err
			}
			id = created.ID
			return nil
		}

		if existing.Level == permission.LevelOwner && req.Level != permission.LevelOwner {
			if err := guardLastOwner(ctx, tx, existing.GrantedTo, req.ResourceID); err != nil {
				return err
			}
		}
		updated, err := tx.Update(ctx, existing.Replace(grant))
		if err != nil {
			return err
		}
		id = updated.ID
		return nil
	})
	return id, err
}

// RevokePermission deletes one grant. It reports false when the grant does
// not exist. The revoker must be the original granter or hold share.
func (e *Engine) RevokePermission(ctx context.Context, permissionID, revokedBy string) (bool, error) {
	if permissionID == "" || revokedBy == "" {
		return false, ErrInvalidRequest
	}

	var (
		revoked bool
		target  permission.Permission
	)
	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		grant, err := tx.FindByID(ctx, permissionID)
		if errors.Is(err, permission.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		target = *grant

		if grant.GrantedBy != revokedBy {
			if err := requireShare(ctx, tx, revokedBy, grant.ResourceID); err != nil {
				return err
			}
		}
		if grant.Level == permission.LevelOwner && !grant.IsExpired(e.now()) {
			if err := guardLastOwner(ctx, tx, grant.GrantedTo, grant.ResourceID); err != nil {
				return err
			}
		}

		revoked, err = tx.DeleteByID(ctx, grant.ID)
		return err
	})

	fields := auditFields{userID: revokedBy, resourceID: target.ResourceID}
	if err != nil {
		e.emitAudit(ctx, auditEventPermissionRevoked, false, fields, err)
		return false, e.authzError(err)
	}
	if revoked {
		e.metricInc(MetricPermissionRevoked)
		e.emitAudit(ctx, auditEventPermissionRevoked, true, fields, nil)
	}
	return revoked, nil
}

// RevokeAllPermissions removes every grant userID holds on resourceID. Users
// may drop their own grants; anyone else needs share on the resource.
func (e *Engine) RevokeAllPermissions(ctx context.Context, userID, resourceID, requestedBy string) (int, error) {
	if userID == "" || resourceID == "" || requestedBy == "" {
		return 0, ErrInvalidRequest
	}

	var removed int
	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		if requestedBy != userID {
			if err := requireShare(ctx, tx, requestedBy, resourceID); err != nil {
				return err
			}
		}
		if err := guardLastOwner(ctx, tx, userID, resourceID); err != nil {
			return err
		}

		n, err := tx.DeleteByUserAndResource(ctx, userID, resourceID)
		removed = n
		return err
	})

	fields := auditFields{
		userID:     requestedBy,
		resourceID: resourceID,
		metadata: func() map[string]string {
			return map[string]string{"target_user": userID, "removed": strconv.Itoa(removed)}
		},
	}
	if err != nil {
		e.emitAudit(ctx, auditEventPermissionsRevokedAll, false, fields, err)
		return 0, e.authzError(err)
	}

	e.metrics.Add(MetricPermissionRevoked, uint64(removed))
	e.emitAudit(ctx, auditEventPermissionsRevokedAll, true, fields, nil)
	return removed, nil
}

// TransferOwnership makes to the sole OWNER of resourceID. from must hold
// OWNER. Any grant of to is replaced and other co-owners drop to EDITOR.
func (e *Engine) TransferOwnership(ctx context.Context, resourceID, from, to string) error {
	if resourceID == "" || from == "" || to == "" {
		return ErrInvalidRequest
	}
	if from == to {
		return fmt.Errorf("%w: cannot transfer ownership to the current owner", ErrInvalidRequest)
	}

	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		current, err := tx.FindByUserAndResource(ctx, from, resourceID)
		if err != nil {
			return err
		}
		if current == nil || current.Level != permission.LevelOwner {
			return ErrForbidden
		}

		grants, err := tx.FindByResourceID(ctx, resourceID)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if g.Level != permission.LevelOwner || g.GrantedTo == from || g.GrantedTo == to {
				continue
			}
			if _, err := tx.Update(ctx, g.WithLevel(permission.LevelEditor)); err != nil {
				return err
			}
		}

		if _, err := tx.DeleteByUserAndResource(ctx, from, resourceID); err != nil {
			return err
		}
		if _, err := tx.DeleteByUserAndResource(ctx, to, resourceID); err != nil {
			return err
		}
		_, err = tx.Create(ctx, permission.Permission{
			ID:           uuid.NewString(),
			ResourceID:   resourceID,
			ResourceType: current.ResourceType,
			GrantedTo:    to,
			GrantedBy:    from,
			Level:        permission.LevelOwner,
			GrantedAt:    e.now(),
		})
		return err
	})

	fields := auditFields{
		userID:     from,
		resourceID: resourceID,
		metadata:   func() map[string]string { return map[string]string{"new_owner": to} },
	}
	if err != nil {
		e.emitAudit(ctx, auditEventOwnershipTransferred, false, fields, err)
		return e.authzError(err)
	}

	e.metricInc(MetricOwnershipTransferred)
	e.emitAudit(ctx, auditEventOwnershipTransferred, true, fields, nil)
	e.logger.Info().Str("resource_id", resourceID).Str("from", from).Str("to", to).Msg("ownership transferred")
	return nil
}

// ClaimResource records ownerID as the first OWNER of a resource nobody holds
// grants on yet.
func (e *Engine) ClaimResource(ctx context.Context, resourceID string, resourceType permission.ResourceType, ownerID string) (string, error) {
	if resourceID == "" || ownerID == "" || !resourceType.Valid() {
		return "", ErrInvalidRequest
	}

	var id string
	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		grants, err := tx.FindByResourceID(ctx, resourceID)
		if err != nil {
			return err
		}
		if len(grants) > 0 {
			return ErrAlreadyExists
		}

		created, err := tx.Create(ctx, permission.Permission{
			ID:           uuid.NewString(),
			ResourceID:   resourceID,
			ResourceType: resourceType,
			GrantedTo:    ownerID,
			GrantedBy:    ownerID,
			Level:        permission.LevelOwner,
			GrantedAt:    e.now(),
		})
		if err != nil {
			return err
		}
		id = created.ID
		return nil
	})
	if errors.Is(err, permission.ErrDuplicate) {
		err = ErrAlreadyExists
	}

	fields := auditFields{userID: ownerID, resourceID: resourceID}
	if err != nil {
		e.emitAudit(ctx, auditEventResourceClaimed, false, fields, err)
		return "", e.authzError(err)
	}

	e.metricInc(MetricResourceClaimed)
	e.emitAudit(ctx, auditEventResourceClaimed, true, fields, nil)
	return id, nil
}

// DeleteResource removes every grant on resourceID. Only an OWNER may do so.
func (e *Engine) DeleteResource(ctx context.Context, resourceID, requestedBy string) (int, error) {
	if resourceID == "" || requestedBy == "" {
		return 0, ErrInvalidRequest
	}

	var removed int
	err := e.permissions.InTx(ctx, func(ctx context.Context, tx permission.Repository) error {
		grant, err := tx.FindByUserAndResource(ctx, requestedBy, resourceID)
		if err != nil {
			return err
		}
		if grant == nil || grant.Level != permission.LevelOwner {
			return ErrForbidden
		}
		removed, err = tx.DeleteByResourceID(ctx, resourceID)
		return err
	})

	fields := auditFields{
		userID:     requestedBy,
		resourceID: resourceID,
		metadata:   func() map[string]string { return map[string]string{"removed": strconv.Itoa(removed)} },
	}
	if err != nil {
		e.emitAudit(ctx, auditEventResourceDeleted, false, fields, err)
		return 0, e.authzError(err)
	}

	e.metricInc(MetricResourceDeleted)
	e.emitAudit(ctx, auditEventResourceDeleted, true, fields, nil)
	return removed, nil
}

// requireShare fails with ErrForbidden unless userID holds a live grant on
// resourceID that allows sharing.
func requireShare(ctx context.Context, tx permission.Repository, userID, resourceID string) error {
	grant, err := tx.FindByUserAndResource(ctx, userID, resourceID)
	if err != nil {
		return err
	}
	if grant == nil || !grant.HasPermission(permission.ActionShare) {
		return ErrForbidden
	}
	return nil
}

// guardLastOwner fails with ErrForbidden when userID holds the only live
// OWNER grant on resourceID.
func guardLastOwner(ctx context.Context, tx permission.Repository, userID, resourceID string) error {
	grants, err := tx.FindByResourceID(ctx, resourceID)
	if err != nil {
		return err
	}

	owners, held := 0, false
	for _, g := range grants {
		if g.Level != permission.LevelOwner {
			continue
		}
		owners++
		if g.GrantedTo == userID {
			held = true
		}
	}
	if held && owners == 1 {
		return fmt.Errorf("%w: the last owner must transfer ownership first", ErrForbidden)
	}
	return nil
}

// authzError passes policy errors through and wraps store failures.
func (e *Engine) authzError(err error) error {
	switch {
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrAlreadyExists):
		return err
	case errors.Is(err, permission.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, permission.ErrDuplicate):
		return fmt.Errorf("%w: concurrent grant for the same user", ErrAlreadyExists)
	}
	return internalError(err)
}

func grantFields(req GrantRequest, id string) auditFields {
	return auditFields{
		userID:     req.GrantedBy,
		resourceID: req.ResourceID,
		metadata: func() map[string]string {
			m := map[string]string{"granted_to": req.GrantedTo, "level": string(req.Level)}
			if id != "" {
				m["permission_id"] = id
			}
			return m
		},
	}
}
