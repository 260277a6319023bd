package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"nexus/backend/internal/constants"
	"nexus/backend/internal/graph"
	"nexus/backend/internal/ratelimit"
	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

const (
	userFields = "id,name,username,description,location,profile_image_url,public_metrics,verified,verified_type,created_at,protected"
	postFields = "id,text,created_at,public_metrics,conversation_id,in_reply_to_user_id,referenced_tweets,entities,lang"
)

// Options configures a Client
type Options struct {
	BaseURL     string
	BearerToken string
	// MaxRetries is the total number of attempts per request
	MaxRetries int
	// Cooldown is slept after a 429 that carries no reset header
	Cooldown   time.Duration
	HTTPClient *http.Client
	// OnRequest, when set, observes every physical attempt
	OnRequest func(endpoint, outcome string)
}

// Client fetches profiles, connections and posts from the platform. Every
// physical request first takes one token from the shared limiter.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiter     ratelimit.Limiter
	maxRetries  int
	cooldown    time.Duration
	backoffBase time.Duration
	onRequest   func(string, string)
	logger      *zap.Logger

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// Page is one page of a following/followers listing
type Page struct {
	Profiles  []*graph.Profile
	NextToken string
}

// NewClient creates a new platform client
func NewClient(limiter ratelimit.Limiter, opts Options) *Client {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 900 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: constants.HTTPTimeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.BearerToken,
		httpClient:  opts.HTTPClient,
		limiter:     limiter,
		maxRetries:  opts.MaxRetries,
		cooldown:    opts.Cooldown,
		backoffBase: time.Second,
		onRequest:   opts.OnRequest,
		logger:      logger.Named("platform"),
		sleep:       ratelimit.Sleep,
		now:         time.Now,
	}
}

// FetchProfile fetches a single user by id
func (c *Client) FetchProfile(ctx context.Context, id string) (*graph.Profile, error) {
	return c.fetchUser(ctx, "/users/"+url.PathEscape(id), id)
}

// FetchProfileByHandle fetches a single user by handle, with or without a leading @
func (c *Client) FetchProfileByHandle(ctx context.Context, handle string) (*graph.Profile, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, apperrors.NewValidation("handle", "must not be empty")
	}
	return c.fetchUser(ctx, "/users/by/username/"+url.PathEscape(handle), handle)
}

func (c *Client) fetchUser(ctx context.Context, path, key string) (*graph.Profile, error) {
	var resp userResponse
	if err := c.get(ctx, path, url.Values{"user.fields": {userFields}}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		if len(resp.Errors) == 0 || notFoundError(resp.Errors) {
			return nil, apperrors.NewNotFound("profile", key)
		}
		return nil, apperrors.NewPlatformRequest(path, http.StatusOK, resp.Errors[0].Detail)
	}
	return toProfile(*resp.Data, c.now()), nil
}

// FetchUsers looks up to 100 users in one request. Ids the platform does not
// know are omitted from the result.
func (c *Client) FetchUsers(ctx context.Context, ids []string) ([]*graph.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > constants.MaxBatchLookup {
		return nil, apperrors.NewValidation("ids", fmt.Sprintf("at most %d per request, got %d", constants.MaxBatchLookup, len(ids)))
	}

	var resp usersResponse
	query := url.Values{
		"ids":         {strings.Join(ids, ",")},
		"user.fields": {userFields},
	}
	if err := c.get(ctx, "/users", query, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	profiles := make([]*graph.Profile, 0, len(resp.Data))
	for _, u := range resp.Data {
		profiles = append(profiles, toProfile(u, now))
	}
	return profiles, nil
}

// FetchFollowing returns one page of the accounts id follows
func (c *Client) FetchFollowing(ctx context.Context, id string, pageSize int, pageToken string) (*Page, error) {
	return c.fetchFollowPage(ctx, "/users/"+url.PathEscape(id)+"/following", pageSize, pageToken)
}

// FetchFollowers returns one page of the accounts following id
func (c *Client) FetchFollowers(ctx context.Context, id string, pageSize int, pageToken string) (*Page, error) {
	return c.fetchFollowPage(ctx, "/users/"+url.PathEscape(id)+"/followers", pageSize, pageToken)
}

// FetchAllFollowing walks every page. maxResults of 0 means unbounded.
func (c *Client) FetchAllFollowing(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	return c.walk(ctx, id, maxResults, c.FetchFollowing)
}

// FetchAllFollowers walks every page. maxResults of 0 means unbounded.
func (c *Client) FetchAllFollowers(ctx context.Context, id string, maxResults int) ([]*graph.Profile, error) {
	return c.walk(ctx, id, maxResults, c.FetchFollowers)
}

type pageFunc func(ctx context.Context, id string, pageSize int, pageToken string) (*Page, error)

func (c *Client) walk(ctx context.Context, id string, maxResults int, fetch pageFunc) ([]*graph.Profile, error) {
	var all []*graph.Profile
	token := ""
	for {
		pageSize := constants.MaxFollowPageSize
		if maxResults > 0 {
			pageSize = min(pageSize, maxResults-len(all))
		}

		page, err := fetch(ctx, id, pageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Profiles...)

		if page.NextToken == "" || (maxResults > 0 && len(all) >= maxResults) {
			break
		}
		token = page.NextToken
	}

	if maxResults > 0 && len(all) > maxResults {
		all = all[:maxResults]
	}
	return all, nil
}

func (c *Client) fetchFollowPage(ctx context.Context, path string, pageSize int, pageToken string) (*Page, error) {
	pageSize = max(1, min(pageSize, constants.MaxFollowPageSize))

	query := url.Values{
		"max_results": {strconv.Itoa(pageSize)},
		"user.fields": {userFields},
	}
	if pageToken != "" {
		query.Set("pagination_token", pageToken)
	}

	var resp usersResponse
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	page := &Page{
		Profiles:  make([]*graph.Profile, 0, len(resp.Data)),
		NextToken: resp.Meta.NextToken,
	}
	for _, u := range resp.Data {
		page.Profiles = append(page.Profiles, toProfile(u, now))
	}
	return page, nil
}

// FetchRecentPosts returns up to count original post texts, newest first.
// Retweets and replies are excluded.
func (c *Client) FetchRecentPosts(ctx context.Context, id string, count int) ([]string, error) {
	if count <= 0 {
		return []string{}, nil
	}

	path := "/users/" + url.PathEscape(id) + "/tweets"
	posts := make([]string, 0, count)
	token := ""
	for len(posts) < count {
		pageSize := max(constants.MinPostsPageSize, min(count-len(posts), constants.MaxPostsPageSize))
		query := url.Values{
			"max_results":  {strconv.Itoa(pageSize)},
			"tweet.fields": {postFields},
			"exclude":      {"retweets,replies"},
		}
		if token != "" {
			query.Set("pagination_token", token)
		}

		var resp postsResponse
		if err := c.get(ctx, path, query, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Data {
			posts = append(posts, p.Text)
		}

		if resp.Meta.NextToken == "" || len(resp.Data) == 0 {
			break
		}
		token = resp.Meta.NextToken
	}

	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

type attemptOutcome int

const (
	outcomeOK attemptOutcome = iota
	outcomeRateLimited
	outcomeTransient
)

// get performs a GET with the shared retry policy and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var (
		lastErr     error
		lastOutcome attemptOutcome
	)
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return err
		}

		outcome, wait, err := c.attempt(ctx, path, endpoint, attempt, out)
		if outcome == outcomeOK {
			return err
		}
		lastErr, lastOutcome = err, outcome

		if attempt == c.maxRetries-1 {
			break
		}

		c.logger.Warn("Retrying platform request",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return apperrors.NewContextCancelled("platform retry backoff", err)
		}
	}

	if lastOutcome == outcomeRateLimited {
		return apperrors.NewRateLimitExceeded(path, c.maxRetries, lastErr)
	}
	return apperrors.NewTransientNetwork(path, c.maxRetries, lastErr)
}

// attempt runs one physical request. A terminal result (success or a
// non-retryable error) is reported as outcomeOK with its error.
func (c *Client) attempt(ctx context.Context, path, endpoint string, attempt int, out interface{}) (attemptOutcome, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return outcomeOK, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Platform request", zap.String("path", path), zap.Int("attempt", attempt+1))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe(path, "cancelled")
			return outcomeOK, 0, apperrors.NewContextCancelled("platform request", ctxErr)
		}
		c.observe(path, "network_error")
		return outcomeTransient, c.backoff(attempt), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(path, "network_error")
		return outcomeTransient, c.backoff(attempt), fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.observe(path, "rate_limited")
		wait := c.cooldownFrom(resp.Header)
		c.logger.Warn("Platform rate limit hit",
			zap.String("path", path),
			zap.Duration("cooldown", wait),
		)
		return outcomeRateLimited, wait, fmt.Errorf("status %d", resp.StatusCode)

	case resp.StatusCode >= http.StatusInternalServerError:
		c.observe(path, "server_error")
		return outcomeTransient, c.backoff(attempt), fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))

	case resp.StatusCode == http.StatusNotFound:
		c.observe(path, "not_found")
		return outcomeOK, 0, apperrors.NewNotFound("resource", path)

	case resp.StatusCode >= http.StatusBadRequest:
		c.observe(path, "client_error")
		c.logger.Error("Platform API error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
			zap.String("response_body", truncate(string(body), 500)),
		)
		return outcomeOK, 0, apperrors.NewPlatformRequest(path, resp.StatusCode, truncate(string(body), 200))
	}

	c.observe(path, "ok")
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("Failed to decode platform response",
			zap.Error(err),
			zap.String("path", path),
		)
		return outcomeOK, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return outcomeOK, 0, nil
}

// cooldownFrom honours x-rate-limit-reset (epoch seconds) when it lies in the future
func (c *Client) cooldownFrom(h http.Header) time.Duration {
	if raw := h.Get("x-rate-limit-reset"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if wait := time.Unix(epoch, 0).Sub(c.now()); wait > 0 {
				return wait
			}
		}
	}
	return c.cooldown
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.backoffBase * time.Duration(1<<attempt)
}

func (c *Client) observe(path, outcome string) {
	if c.onRequest != nil {
		c.onRequest(endpointLabel(path), outcome)
	}
}

// endpointLabel strips ids so metric labels stay low-cardinality
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[1] == "by":
		return "users_by_username"
	case len(parts) == 3:
		return "users_" + parts[2]
	case len(parts) == 2:
		return "user"
	}
	return "users"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
