package platform

import (
	"strings"
	"time"

	"nexus/backend/internal/graph"
)

// Wire shapes of the platform's v2 JSON payloads. Every response is decoded
// into one of these and converted to graph types exactly once.

type publicMetricsDTO struct {
	FollowersCount int `json:"followers_count"`
	FollowingCount int `json:"following_count"`
	TweetCount     int `json:"tweet_count"`
	ListedCount    int `json:"listed_count"`
}

type userDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Username        string            `json:"username"`
	Description     string            `json:"description"`
	Location        string            `json:"location"`
	ProfileImageURL string            `json:"profile_image_url"`
	PublicMetrics   *publicMetricsDTO `json:"public_metrics"`
	Verified        bool              `json:"verified"`
	VerifiedType    *string           `json:"verified_type"`
	CreatedAt       string            `json:"created_at"`
	Protected       bool              `json:"protected"`
}

type postDTO struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
}

type pageMeta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
}

type apiErrorDTO struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type userResponse struct {
	Data   *userDTO      `json:"data"`
	Errors []apiErrorDTO `json:"errors"`
}

type usersResponse struct {
	Data   []userDTO     `json:"data"`
	Meta   pageMeta      `json:"meta"`
	Errors []apiErrorDTO `json:"errors"`
}

type postsResponse struct {
	Data []postDTO `json:"data"`
	Meta pageMeta  `json:"meta"`
}

// toProfile converts a user payload, stamping the refresh time
func toProfile(u userDTO, refreshedAt time.Time) *graph.Profile {
	p := &graph.Profile{
		ID:               u.ID,
		Handle:           u.Username,
		DisplayName:      u.Name,
		Bio:              u.Description,
		Location:         u.Location,
		AvatarURL:        u.ProfileImageURL,
		Verified:         u.Verified || u.VerifiedType != nil,
		Protected:        u.Protected,
		AccountCreatedAt: parseTimestamp(u.CreatedAt),
		LastRefreshedAt:  &refreshedAt,
	}
	if m := u.PublicMetrics; m != nil {
		p.FollowersCount = m.FollowersCount
		p.FollowingCount = m.FollowingCount
		p.PostCount = m.TweetCount
		p.ListedCount = m.ListedCount
	}
	return p
}

// parseTimestamp returns nil for empty or unparseable values
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func notFoundError(errs []apiErrorDTO) bool {
	for _, e := range errs {
		if strings.Contains(e.Title, "Not Found") || strings.HasSuffix(e.Type, "resource-not-found") {
			return true
		}
	}
	return false
}
