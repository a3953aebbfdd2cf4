// Package graph is a minimal Microsoft Graph client covering the two
// operations tracking needs: user lookup by mail and presence polling.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/storage"
	"github.com/goodtune/presenced/internal/tracker"
)

const (
	// Graph rejects $filter expressions with too many operands, so mail
	// lookups are chunked.
	lookupChunkSize = 15
	// getPresencesByUserId accepts at most 650 IDs per call.
	presenceChunkSize = 650

	resolverCacheSize = 256
)

// AuthError reports a request rejected for credential reasons. It is
// terminal: retrying with the same token cannot succeed.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("graph: authentication failed with status %d", e.StatusCode)
}

// AuthFailure marks the error as fatal for the tracking run.
func (e *AuthError) AuthFailure() bool { return true }

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a pre-acquired token unchanged.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource wraps a fixed bearer token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the wrapped token.
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", &AuthError{StatusCode: http.StatusUnauthorized}
	}
	return s.token, nil
}

// Client talks to the Graph REST API. Resolved users are cached, so
// repeated lookups of the same address stay local.
type Client struct {
	endpoint string
	tokens   TokenSource
	http     *http.Client
	cache    *lru.Cache[string, storage.User]
	logger   zerolog.Logger
}

// NewClient creates a Graph client from configuration.
func NewClient(cfg config.GraphConfig, tokens TokenSource, logger zerolog.Logger) (*Client, error) {
	cache, err := lru.New[string, storage.User](resolverCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		tokens:   tokens,
		http:     &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		logger:   logger.With().Str("component", "graph").Logger(),
	}, nil
}

// Resolve finds the directory user for one email address.
func (c *Client) Resolve(ctx context.Context, mail string) (*storage.User, error) {
	mail = strings.ToLower(mail)
	if user, ok := c.cache.Get(mail); ok {
		return &user, nil
	}

	users, err := c.Lookup(ctx, []string{mail})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("graph: no user with mail %q", mail)
	}
	return &users[0], nil
}

type userPage struct {
	Value []struct {
		ID          string `json:"id"`
		Mail        string `json:"mail"`
		DisplayName string `json:"displayName"`
		JobTitle    string `json:"jobTitle"`
	} `json:"value"`
}

// Lookup resolves a batch of email addresses, chunking the filter to stay
// within Graph's operand limit. Addresses the directory does not know are
// silently absent from the result.
func (c *Client) Lookup(ctx context.Context, mails []string) ([]storage.User, error) {
	var users []storage.User

	for start := 0; start < len(mails); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(mails) {
			end = len(mails)
		}

		query := url.Values{}
		query.Set("$filter", mailFilter(mails[start:end]))
		query.Set("$select", "id,mail,displayName,jobTitle")

		var page userPage
		if err := c.get(ctx, "/users?"+query.Encode(), &page); err != nil {
			return nil, err
		}

		for _, u := range page.Value {
			user := storage.User{
				ID:          u.ID,
				Mail:        strings.ToLower(u.Mail),
				DisplayName: u.DisplayName,
				JobTitle:    u.JobTitle,
			}
			c.cache.Add(user.Mail, user)
			users = append(users, user)
		}
	}

	c.logger.Debug().Int("requested", len(mails)).Int("resolved", len(users)).Msg("Resolved users")
	return users, nil
}

type presencePage struct {
	Value []struct {
		ID           string `json:"id"`
		Availability string `json:"availability"`
		Activity     string `json:"activity"`
	} `json:"value"`
}

// Presences fetches the current availability of the given user IDs.
func (c *Client) Presences(ctx context.Context, userIDs []string) ([]tracker.Sample, error) {
	samples := make([]tracker.Sample, 0, len(userIDs))

	for start := 0; start < len(userIDs); start += presenceChunkSize {
		end := start + presenceChunkSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var page presencePage
		err := c.post(ctx, "/communications/getPresencesByUserId", map[string]any{"ids": userIDs[start:end]}, &page)
		if err != nil {
			return nil, err
		}

		for _, p := range page.Value {
			samples = append(samples, tracker.Sample{UserID: p.ID, Availability: p.Availability})
		}
	}

	return samples, nil
}

func mailFilter(mails []string) string {
	quoted := make([]string, len(mails))
	for i, mail := range mails {
		quoted[i] = "'" + strings.ReplaceAll(mail, "'", "''") + "'"
	}
	return fmt.Sprintf("mail in (%s)", strings.Join(quoted, ","))
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph request %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
