package graph

import (
	"slices"
	"time"
)

// ============================================================================
// Graph Types
// ============================================================================

// Profile is a platform account. Summary and Embedding are derived data and
// are only ever written together.
type Profile struct {
	ID               string     `json:"id"`
	Handle           string     `json:"handle"`
	DisplayName      string     `json:"display_name"`
	Bio              string     `json:"bio,omitempty"`
	Location         string     `json:"location,omitempty"`
	AvatarURL        string     `json:"avatar_url,omitempty"`
	Verified         bool       `json:"verified"`
	FollowersCount   int        `json:"followers_count"`
	FollowingCount   int        `json:"following_count"`
	PostCount        int        `json:"post_count"`
	ListedCount      int        `json:"listed_count"`
	Protected        bool       `json:"protected"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
	LastRefreshedAt  *time.Time `json:"last_refreshed_at,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Embedding        []float32  `json:"-"`
	EmbeddedAt       *time.Time `json:"embedded_at,omitempty"`
}

// HasEmbedding reports whether the profile carries a vector
func (p *Profile) HasEmbedding() bool {
	return p != nil && len(p.Embedding) > 0
}

// Clone returns a deep copy
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Embedding = slices.Clone(p.Embedding)
	c.AccountCreatedAt = cloneTime(p.AccountCreatedAt)
	c.LastRefreshedAt = cloneTime(p.LastRefreshedAt)
	c.EmbeddedAt = cloneTime(p.EmbeddedAt)
	return &c
}

// TextChanged reports whether the fields that feed the summary differ
func TextChanged(old, updated *Profile) bool {
	if old == nil || updated == nil {
		return true
	}
	return old.DisplayName != updated.DisplayName ||
		old.Handle != updated.Handle ||
		old.Bio != updated.Bio ||
		old.Location != updated.Location
}

// ConnectionSet holds a user's mutual connections. It is replaced whole on every write.
type ConnectionSet struct {
	UserID       string    `json:"user_id"`
	MutualIDs    []string  `json:"mutual_ids"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Contains reports whether id is one of the mutuals
func (c *ConnectionSet) Contains(id string) bool {
	return c != nil && slices.Contains(c.MutualIDs, id)
}

// PostsRecord holds a user's most recent post texts, newest first
type PostsRecord struct {
	UserID       string    `json:"user_id"`
	Posts        []string  `json:"posts"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Stats summarises what the store holds
type Stats struct {
	Profiles       int `json:"profiles"`
	Embedded       int `json:"embedded"`
	ConnectionSets int `json:"connection_sets"`
	PostsRecords   int `json:"posts_records"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
