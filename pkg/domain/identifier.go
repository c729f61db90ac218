package domain

import (
	"strings"

	"github.com/google/uuid"
)

// localIDPrefix is the reserved tag carried by every locally-allocated
// identifier. The backend never issues identifiers with this prefix, so the
// two variants can never collide.
const localIDPrefix = "local-"

// NewLocalID allocates an identifier for an entity created while offline.
// The uuid suffix makes the identifier collision-resistant against every
// other local identifier ever allocated; the prefix makes it distinguishable
// from every server identifier ever issued.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was allocated locally. It is the single
// source of truth for routing decisions (for example "read this audit from
// the cache only") and must never be reimplemented at call sites. Pure and
// side-effect free.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
