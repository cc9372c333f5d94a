package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskora/deskora/internal/domain"
)

const (
	ticketSearchEndpoint     = "/search/Ticket"
	technicianSearchEndpoint = "/search/User"

	upstreamQueryTimeLayout = "2006-01-02 15:04:05"
)

// ClientConfig holds the resilient fetcher settings.
type ClientConfig struct {
	BaseURL      string
	AppToken     string
	CallTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	PageSize     int
	Breaker      BreakerConfig
}

// SearchPage is one page of an upstream search response. Row keys are the
// upstream's numeric field codes.
type SearchPage struct {
	Rows  []domain.RawRecord `json:"data"`
	Total int                `json:"totalcount"`
}

// Criterion is one field-code-based filter of the upstream search endpoint.
type Criterion struct {
	Field      string
	SearchType string
	Value      string
}

// Client performs upstream search calls behind per-endpoint circuit breakers,
// with bounded retries for transient failures and a single re-authentication
// attempt on 401.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	session *SessionManager
	logger  *logrus.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewClient creates an upstream client.
func NewClient(cfg ClientConfig, session *SessionManager, logger *logrus.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		session:  session,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Search performs one upstream search call against a logical endpoint.
// Transient failures are retried up to MaxRetries times and count toward the
// endpoint's breaker; application errors do neither.
func (c *Client) Search(ctx context.Context, endpoint string, query url.Values) (*SearchPage, error) {
	br := c.breakerFor(endpoint)

	var lastErr error
	authRetried := false

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := br.Allow(); err != nil {
			return nil, err
		}

		page, err := c.doSearch(ctx, endpoint, query)
		if err == nil {
			br.RecordSuccess()
			return page, nil
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// the upstream answered, so a half-open trial must not stay held
			br.RecordNeutral()
			if authRetried {
				return nil, err
			}
			// one re-authentication attempt, then fatal
			authRetried = true
			c.session.Invalidate()
			c.logger.WithField("endpoint", endpoint).Warn("Session rejected, re-authenticating once")
			attempt--
			continue
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			br.RecordNeutral()
			return nil, err
		}

		br.RecordFailure()
		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{
			"endpoint": endpoint,
			"attempt":  attempt + 1,
		}).Warn("Transient upstream failure")

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, &TransientError{Endpoint: endpoint, Err: ctx.Err()}
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt+1)):
			}
		}
	}

	return nil, lastErr
}

// SearchTickets fetches every ticket created since the given time, walking
// the upstream pagination.
func (c *Client) SearchTickets(ctx context.Context, since time.Time) ([]domain.RawRecord, error) {
	criteria := []Criterion{
		{Field: "15", SearchType: "morethan", Value: since.Format(upstreamQueryTimeLayout)},
	}
	return c.searchAllPages(ctx, ticketSearchEndpoint, criteria)
}

// TechnicianTickets fetches the tickets assigned to one technician since the
// given time.
func (c *Client) TechnicianTickets(ctx context.Context, techID int, since time.Time) ([]domain.RawRecord, error) {
	criteria := []Criterion{
		{Field: "5", SearchType: "equals", Value: strconv.Itoa(techID)},
		{Field: "15", SearchType: "morethan", Value: since.Format(upstreamQueryTimeLayout)},
	}
	return c.searchAllPages(ctx, ticketSearchEndpoint, criteria)
}

// ListTechnicians fetches the technician directory.
func (c *Client) ListTechnicians(ctx context.Context) ([]domain.RawRecord, error) {
	return c.searchAllPages(ctx, technicianSearchEndpoint, nil)
}

// BreakerStates reports the state of every breaker created so far, keyed by
// endpoint. Used by the health endpoint.
func (c *Client) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]string, len(c.breakers))
	for endpoint, br := range c.breakers {
		states[endpoint] = string(br.State())
	}
	return states
}

func (c *Client) breakerFor(endpoint string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	br, ok := c.breakers[endpoint]
	if !ok {
		br = NewBreaker(endpoint, c.cfg.Breaker, c.logger)
		c.breakers[endpoint] = br
	}
	return br
}

func (c *Client) searchAllPages(ctx context.Context, endpoint string, criteria []Criterion) ([]domain.RawRecord, error) {
	var rows []domain.RawRecord

	for start := 0; ; start += c.cfg.PageSize {
		query := encodeCriteria(criteria)
		query.Set("range", fmt.Sprintf("%d-%d", start, start+c.cfg.PageSize-1))

		page, err := c.Search(ctx, endpoint, query)
		if err != nil {
			return nil, err
		}

		rows = append(rows, page.Rows...)
		if len(page.Rows) == 0 || len(rows) >= page.Total {
			return rows, nil
		}
	}
}

// doSearch performs a single attempt with the hard per-call timeout applied.
func (c *Client) doSearch(ctx context.Context, endpoint string, query url.Values) (*SearchPage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	token, err := c.session.Token(callCtx)
	if err != nil {
		return nil, err
	}

	u := c.cfg.BaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("App-Token", c.cfg.AppToken)
	req.Header.Set("Session-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && callCtx.Err() != context.DeadlineExceeded {
			// caller cancellation, not an upstream failure
			return nil, ctx.Err()
		}
		if isTransportError(err) {
			return nil, &TransientError{Endpoint: endpoint, Err: err}
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusUnauthorized:
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: string(body)}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, &TransientError{Endpoint: endpoint, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: string(body)}
	}

	var page SearchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &page, nil
}

// encodeCriteria renders field-code criteria the way the upstream search
// endpoint expects them: criteria[i][field], criteria[i][searchtype],
// criteria[i][value].
func encodeCriteria(criteria []Criterion) url.Values {
	query := url.Values{}
	for i, criterion := range criteria {
		prefix := fmt.Sprintf("criteria[%d]", i)
		query.Set(prefix+"[field]", criterion.Field)
		query.Set(prefix+"[searchtype]", criterion.SearchType)
		query.Set(prefix+"[value]", criterion.Value)
	}
	return query
}
