// Package tya talks to the Themes & Authors catalog service using its
// two-phase protocol: /{kind}/filter lists identifiers, /{kind}/list?ids=
// returns the full records for a batch of them.
package tya

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"oversounds/internal/metrics"
	"oversounds/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	phaseFilter = "filter"
	phaseList   = "list"
)

// Client holds the upstream settings. It is safe for concurrent use; every
// storefront build opens its own Session from it.
type Client struct {
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a client for the service at baseURL. A nil limiter
// disables rate limiting.
func NewClient(baseURL string, timeout time.Duration, limiter *rate.Limiter, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}
}

// NewLimiter builds the outbound limiter from a rate and burst. A rate of
// zero means unlimited and returns nil.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Session is one connection scope against the upstream. All requests of a
// storefront build share it; Close releases its pooled connections.
type Session struct {
	client    *Client
	transport *http.Transport
	http      *http.Client
}

// OpenSession starts a new connection scope. Callers must Close it.
func (c *Client) OpenSession() *Session {
	transport := newSessionTransport()
	return &Session{
		client:    c,
		transport: transport,
		http: &http.Client{
			Transport: &limitedTransport{Base: transport, RateLimiter: c.limiter},
			Timeout:   c.timeout,
		},
	}
}

// Close drops every idle connection held by the session.
func (s *Session) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

// FetchIdentifiers lists every identifier of a kind in upstream order.
// Entries without a usable identifier are skipped.
func (s *Session) FetchIdentifiers(ctx context.Context, kind models.ProductKind) ([]int, error) {
	var entries []map[string]json.RawMessage
	if err := s.get(ctx, kind, phaseFilter, "/"+kind.String()+"/filter", &entries); err != nil {
		return nil, err
	}

	field := kind.String() + "Id"
	ids := make([]int, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		id, ok := parseIdentifier(entry[field])
		if !ok {
			skipped++
			continue
		}
		ids = append(ids, id)
	}

	if skipped > 0 {
		s.client.logger.WithFields(logrus.Fields{
			"kind":    kind.String(),
			"skipped": skipped,
		}).Debug("Skipped upstream entries without identifier")
	}
	return ids, nil
}

// FetchSongs returns the song records for ids.
func (s *Session) FetchSongs(ctx context.Context, ids []int) ([]SongRecord, error) {
	var out []SongRecord
	err := s.fetchDetails(ctx, models.KindSong, ids, &out)
	return out, err
}

// FetchAlbums returns the album records for ids.
func (s *Session) FetchAlbums(ctx context.Context, ids []int) ([]AlbumRecord, error) {
	var out []AlbumRecord
	err := s.fetchDetails(ctx, models.KindAlbum, ids, &out)
	return out, err
}

// FetchMerch returns the merchandise records for ids.
func (s *Session) FetchMerch(ctx context.Context, ids []int) ([]MerchRecord, error) {
	var out []MerchRecord
	err := s.fetchDetails(ctx, models.KindMerch, ids, &out)
	return out, err
}

// fetchDetails issues one batched list request. No request is made for an
// empty batch.
func (s *Session) fetchDetails(ctx context.Context, kind models.ProductKind, ids []int, out interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	endpoint := "/" + kind.String() + "/list?ids=" + JoinIDs(ids)
	return s.get(ctx, kind, phaseList, endpoint, out)
}

// JoinIDs renders identifiers as the comma separated ids parameter.
func JoinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (s *Session) get(ctx context.Context, kind models.ProductKind, phase, endpoint string, response interface{}) error {
	start := time.Now()
	statusCode := 0
	defer func() {
		metrics.RecordUpstream(kind.String(), phase, statusCode, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s request was cancelled: %w", kind, phase, ctx.Err())
		default:
			return fmt.Errorf("%s %s request failed: %w", kind, phase, err)
		}
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: non-OK status: %d", kind, phase, resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response body: %w", kind, phase, err)
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("%s %s: failed to unmarshal response: %w", kind, phase, err)
	}

	s.client.logger.WithFields(logrus.Fields{
		"kind":     kind.String(),
		"phase":    phase,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Upstream request complete")
	return nil
}
