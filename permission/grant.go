package permission

import (
	"time"
)

// Permission grants one user a level on one resource.
type Permission struct {
	ID           string
	ResourceID   string
	ResourceType ResourceType
	GrantedTo    string
	GrantedBy    string
	Level        Level
	GrantedAt    time.Time
	// ExpiresAt is zero for grants that never expire.
	ExpiresAt time.Time
	// Custom holds named flags for callers. Level checks never read it.
	Custom map[string]bool
}

// IsExpired reports whether the grant has an expiry at or before now.
func (p Permission) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now)
}

// HasPermission reports whether the grant allows action.
//
// OWNER allows everything. EDITOR allows everything but delete and share.
// VIEWER allows read only. Custom is ignored.
func (p Permission) HasPermission(action string) bool {
	switch p.Level {
	case LevelOwner:
		return true
	case LevelEditor:
		return action != ActionDelete && action != ActionShare
	case LevelViewer:
		return action == ActionRead
	}
	return false
}

// HasCustom reports whether the named custom flag is set.
func (p Permission) HasCustom(name string) bool {
	return p.Custom[name]
}

// Clone returns a deep copy.
func (p Permission) Clone() Permission {
	if p.Custom != nil {
		custom := make(map[string]bool, len(p.Custom))
		for k, v := range p.Custom {
			custom[k] = v
		}
		p.Custom = custom
	}
	return p
}

// WithLevel returns a copy with a new level.
func (p Permission) WithLevel(l Level) Permission {
	out := p.Clone()
	out.Level = l
	return out
}

// Replace returns the grant that results from re-granting p: identity and
// GrantedAt are kept, everything else comes from next.
func (p Permission) Replace(next Permission) Permission {
	out := next.Clone()
	out.ID = p.ID
	out.GrantedAt = p.GrantedAt
	out.ResourceID = p.ResourceID
	out.GrantedTo = p.GrantedTo
	return out
}

// Highest returns the highest level among grants that are live at now.
func Highest(grants []Permission, now time.Time) (Level, bool) {
	var best Level
	for _, g := range grants {
		if g.IsExpired(now) {
			continue
		}
		if g.Level.Priority() > best.Priority() {
			best = g.Level
		}
	}
	return best, best.Valid()
}
