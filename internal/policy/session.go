package policy

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultGrantCapacity bounds the always-allow cache so a long session
// cannot grow it without limit.
const defaultGrantCapacity = 256

// Grant records one always-allow decision made by a human.
type Grant struct {
	Tool      string    `json:"tool"`
	GrantedBy string    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// SessionPermissions is the session-scoped always-allow cache. It is an
// explicit per-session object handed to Evaluate; nothing in this package
// keeps global grant state. Entries are added only when a human resolves
// an approval with always-allow.
type SessionPermissions struct {
	SessionID string
	grants    *lru.Cache[string, Grant]
}

// NewSessionPermissions creates an empty cache for one session.
func NewSessionPermissions(sessionID string) *SessionPermissions {
	cache, _ := lru.New[string, Grant](defaultGrantCapacity)
	return &SessionPermissions{SessionID: sessionID, grants: cache}
}

// AlwaysAllow records a human always-allow grant for a tool.
func (s *SessionPermissions) AlwaysAllow(tool, grantedBy string) {
	if s == nil || tool == "" {
		return
	}
	s.grants.Add(tool, Grant{Tool: tool, GrantedBy: grantedBy, GrantedAt: time.Now()})
}

// Allowed reports whether the tool holds an always-allow grant.
func (s *SessionPermissions) Allowed(tool string) bool {
	if s == nil {
		return false
	}
	return s.grants.Contains(tool)
}

// Revoke removes a grant, returning whether one existed.
func (s *SessionPermissions) Revoke(tool string) bool {
	if s == nil {
		return false
	}
	return s.grants.Remove(tool)
}

// Grants returns the current grants ordered oldest first.
func (s *SessionPermissions) Grants() []Grant {
	if s == nil {
		return nil
	}
	keys := s.grants.Keys()
	out := make([]Grant, 0, len(keys))
	for _, key := range keys {
		if grant, ok := s.grants.Peek(key); ok {
			out = append(out, grant)
		}
	}
	return out
}

// Len returns the number of live grants.
func (s *SessionPermissions) Len() int {
	if s == nil {
		return 0
	}
	return s.grants.Len()
}
