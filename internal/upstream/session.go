package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionConfig holds the credentials and lifetime estimates for the
// upstream session.
type SessionConfig struct {
	BaseURL     string
	AppToken    string
	UserToken   string
	SessionTTL  time.Duration
	Margin      time.Duration
	CallTimeout time.Duration
}

// SessionManager owns the upstream session token: one process-wide session,
// lazily opened, proactively refreshed, explicitly revoked on shutdown.
type SessionManager struct {
	cfg    SessionConfig
	client *http.Client
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSessionManager creates a session manager. No upstream call is made until
// the first Token request.
func NewSessionManager(cfg SessionConfig, logger *logrus.Logger) *SessionManager {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &SessionManager{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.CallTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Token returns a valid session token, authenticating or refreshing when the
// cached token is absent or inside the safety margin of its estimated expiry.
func (s *SessionManager) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt.Add(-s.cfg.Margin)) {
		return s.token, nil
	}

	if err := s.authenticate(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate marks the cached token stale. Called by the client when the
// upstream answers 401 despite a token we believed valid.
func (s *SessionManager) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// Close revokes the upstream session. Safe to call when no session was ever
// opened.
func (s *SessionManager) Close(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/killSession", nil)
	if err != nil {
		return fmt.Errorf("failed to create session teardown request: %w", err)
	}
	req.Header.Set("App-Token", s.cfg.AppToken)
	req.Header.Set("Session-Token", token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke upstream session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upstream session teardown returned %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Info("Upstream session revoked")
	return nil
}

// authenticate opens a new session. Callers hold s.mu.
func (s *SessionManager) authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/initSession", nil)
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("App-Token", s.cfg.AppToken)
	req.Header.Set("Authorization", "user_token "+s.cfg.UserToken)

	resp, err := s.client.Do(req)
	if err != nil {
		if isTransportError(err) {
			return &TransientError{Endpoint: "/initSession", Err: err}
		}
		return fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &TransientError{Endpoint: "/initSession", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	default:
		body, _ := io.ReadAll(resp.Body)
		return &AuthError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var payload struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode session response: %w", err)
	}
	if payload.SessionToken == "" {
		return &AuthError{StatusCode: resp.StatusCode, Message: "empty session token in response"}
	}

	s.token = payload.SessionToken
	s.expiresAt = s.now().Add(s.cfg.SessionTTL)

	s.logger.WithField("expires_at", s.expiresAt).Info("Upstream session established")
	return nil
}
