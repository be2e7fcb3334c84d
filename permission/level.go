package permission

import (
	"fmt"
	"strings"
)

// Level is a rung of the per-resource hierarchy OWNER > EDITOR > VIEWER.
type Level string

const (
	LevelOwner  Level = "OWNER"
	LevelEditor Level = "EDITOR"
	LevelViewer Level = "VIEWER"
)

// Priority returns 3, 2 and 1 for OWNER, EDITOR and VIEWER, and 0 otherwise.
func (l Level) Priority() int {
	switch l {
	case LevelOwner:
		return 3
	case LevelEditor:
		return 2
	case LevelViewer:
		return 1
	}
	return 0
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l.Priority() > 0 }

// AtLeast reports whether l grants everything required grants.
func (l Level) AtLeast(required Level) bool {
	return l.Valid() && l.Priority() >= required.Priority()
}

// ParseLevel accepts level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown permission level %q", s)
	}
	return l, nil
}

// ResourceType classifies the ownable entities permissions attach to.
type ResourceType string

const (
	ResourceWorld     ResourceType = "WORLD"
	ResourceCharacter ResourceType = "CHARACTER"
	ResourceLocation  ResourceType = "LOCATION"
	ResourceItem      ResourceType = "ITEM"
	ResourceStory     ResourceType = "STORY"
	ResourceCampaign  ResourceType = "CAMPAIGN"
	ResourceWorkspace ResourceType = "WORKSPACE"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceWorld, ResourceCharacter, ResourceLocation, ResourceItem,
		ResourceStory, ResourceCampaign, ResourceWorkspace:
		return true
	}
	return false
}

// ParseResourceType accepts resource type names case-insensitively.
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown resource type %q", s)
	}
	return t, nil
}

// Well-known actions.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionShare  = "share"
)
