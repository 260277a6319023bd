package graph

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	apperrors "nexus/backend/pkg/errors"
)

// MemoryStore is a process-local Store used by tests and the CLI's dry-run mode.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]*Profile
	connections map[string]*ConnectionSet
	posts       map[string]*PostsRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]*Profile),
		connections: make(map[string]*ConnectionSet),
		posts:       make(map[string]*PostsRecord),
	}
}

func (m *MemoryStore) UpsertProfile(ctx context.Context, p *Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertProfileLocked(p)
	return nil
}

// upsertProfileLocked overwrites platform fields and keeps derived data
// unless the summary inputs changed.
func (m *MemoryStore) upsertProfileLocked(p *Profile) {
	next := p.Clone()
	next.Summary, next.Embedding, next.EmbeddedAt = "", nil, nil

	if old, ok := m.profiles[p.ID]; ok && !TextChanged(old, p) {
		next.Summary = old.Summary
		next.Embedding = slices.Clone(old.Embedding)
		next.EmbeddedAt = cloneTime(old.EmbeddedAt)
	}
	m.profiles[p.ID] = next
}

func (m *MemoryStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperrors.NewNotFound("profile", id)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) GetProfiles(ctx context.Context, ids []string) (map[string]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p.Clone()
		}
	}
	return out, nil
}

func (m *MemoryStore) ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	offset = max(offset, 0)
	if offset >= len(ids) {
		return []*Profile{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*Profile, len(ids))
	for i, id := range ids {
		out[i] = m.profiles[id].Clone()
	}
	return out, nil
}

func (m *MemoryStore) SaveMutuals(ctx context.Context, userID string, mutuals []*Profile, discoveredAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(mutuals))
	for _, p := range mutuals {
		m.upsertProfileLocked(p)
		ids = append(ids, p.ID)
	}
	m.connections[userID] = &ConnectionSet{UserID: userID, MutualIDs: ids, DiscoveredAt: discoveredAt}
	return nil
}

func (m *MemoryStore) UpsertConnectionSet(ctx context.Context, set *ConnectionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[set.UserID] = &ConnectionSet{
		UserID:       set.UserID,
		MutualIDs:    slices.Clone(set.MutualIDs),
		DiscoveredAt: set.DiscoveredAt,
	}
	return nil
}

func (m *MemoryStore) GetConnectionSet(ctx context.Context, userID string) (*ConnectionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.connections[userID]
	if !ok {
		return nil, apperrors.NewNotFound("connection set", userID)
	}
	return cloneSet(set), nil
}

func (m *MemoryStore) GetConnectionSets(ctx context.Context, userIDs []string) (map[string]*ConnectionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*ConnectionSet, len(userIDs))
	for _, id := range userIDs {
		if set, ok := m.connections[id]; ok {
			out[id] = cloneSet(set)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertPosts(ctx context.Context, rec *PostsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a missing record compares as no posts, matching the Cypher coalesce
	var previous []string
	if old, ok := m.posts[rec.UserID]; ok {
		previous = old.Posts
	}
	m.posts[rec.UserID] = &PostsRecord{
		UserID:       rec.UserID,
		Posts:        slices.Clone(rec.Posts),
		DiscoveredAt: rec.DiscoveredAt,
	}

	if slices.Equal(previous, rec.Posts) {
		return nil
	}
	if p, ok := m.profiles[rec.UserID]; ok {
		p.Summary, p.Embedding, p.EmbeddedAt = "", nil, nil
	}
	return nil
}

func (m *MemoryStore) GetPosts(ctx context.Context, userID string) (*PostsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.posts[userID]
	if !ok {
		return nil, apperrors.NewNotFound("posts", userID)
	}
	return &PostsRecord{UserID: rec.UserID, Posts: slices.Clone(rec.Posts), DiscoveredAt: rec.DiscoveredAt}, nil
}

func (m *MemoryStore) FindProfilesMissingEmbedding(ctx context.Context, ids []string, limit int) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*Profile
	if len(ids) > 0 {
		for _, id := range ids {
			if p, ok := m.profiles[id]; ok && !p.HasEmbedding() {
				candidates = append(candidates, p)
			}
		}
	} else {
		for _, p := range m.profiles {
			if !p.HasEmbedding() {
				candidates = append(candidates, p)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FollowersCount != candidates[j].FollowersCount {
			return candidates[i].FollowersCount > candidates[j].FollowersCount
		}
		return candidates[i].ID < candidates[j].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*Profile, len(candidates))
	for i, p := range candidates {
		out[i] = p.Clone()
	}
	return out, nil
}

func (m *MemoryStore) UpdateProfileSummaryEmbedding(ctx context.Context, id, summary string, embedding []float32, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return apperrors.NewNotFound("profile", id)
	}
	p.Summary = summary
	p.Embedding = slices.Clone(embedding)
	p.EmbeddedAt = &at
	return nil
}

func (m *MemoryStore) ClearSummaryEmbedding(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		p.Summary, p.Embedding, p.EmbeddedAt = "", nil, nil
	}
	return nil
}

func (m *MemoryStore) ClearEmbeddingsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := 0
	for _, p := range m.profiles {
		if p.EmbeddedAt != nil && p.EmbeddedAt.Before(cutoff) {
			p.Summary, p.Embedding, p.EmbeddedAt = "", nil, nil
			cleared++
		}
	}
	return cleared, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Stats{
		Profiles:       len(m.profiles),
		ConnectionSets: len(m.connections),
		PostsRecords:   len(m.posts),
	}
	for _, p := range m.profiles {
		if p.HasEmbedding() {
			s.Embedded++
		}
	}
	return s, nil
}

func cloneSet(set *ConnectionSet) *ConnectionSet {
	return &ConnectionSet{
		UserID:       set.UserID,
		MutualIDs:    slices.Clone(set.MutualIDs),
		DiscoveredAt: set.DiscoveredAt,
	}
}
