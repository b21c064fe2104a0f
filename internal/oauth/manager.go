package oauth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/relaymux/relaymux/internal/config"
)

// ErrNoTokens is returned by IssueToken when the account pool is empty
// or every token is unusable.
var ErrNoTokens = errors.New("oauth: no usable tokens available")

// pendingAuth tracks a PKCE verifier between BeginAuth and ExchangeCode.
type pendingAuth struct {
	verifier string
	state    string
}

// Manager implements spec §4.B's operations over a set of per-account
// OAuth tokens: issue_token, exchange_code, refresh, delete, clear.
type Manager struct {
	mu      sync.Mutex
	cfg     *oauth2.Config
	store   secretStore
	now     func() time.Time
	jitter  func(time.Duration) time.Duration
	lead    time.Duration
	tokens  map[string]*Token // keyed by account_email
	order   []string          // round-robin issuance order
	cursor  int
	pending map[string]pendingAuth // keyed by account_email
}

// New constructs a Manager from the configured OAuth app registration and
// persistence settings. It does not load persisted tokens; call Load.
func New(settings config.OAuthSettings) *Manager {
	cfg := &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURL,
		Scopes:       settings.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  settings.AuthURL,
			TokenURL: settings.TokenURL,
		},
	}
	store := newSecretStore(settings.KeyringServiceOrDefault(), settings.EncryptedFile)
	return &Manager{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		jitter:  defaultJitter,
		lead:    settings.RefreshLead(),
		tokens:  make(map[string]*Token),
		pending: make(map[string]pendingAuth),
	}
}

// defaultJitter returns a random delay in [0, max), per spec §4.B
// ("jitter to avoid synchronized storms") — used to stagger refresh
// calls for tokens that become due in the same sweep tick.
func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Load reads persisted tokens from the backing secret store and rebuilds
// the round-robin issuance order. Call once at startup.
func (m *Manager) Load() error {
	tokens, err := m.store.LoadAll()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]*Token, len(tokens))
	for email, t := range tokens {
		tc := t
		m.tokens[email] = &tc
	}
	m.rebuildOrderLocked()
	return nil
}

func (m *Manager) rebuildOrderLocked() {
	order := make([]string, 0, len(m.tokens))
	for email := range m.tokens {
		order = append(order, email)
	}
	sort.Strings(order)
	m.order = order
	if m.cursor >= len(m.order) {
		m.cursor = 0
	}
}

func (m *Manager) persistLocked() error {
	snapshot := make(map[string]Token, len(m.tokens))
	for email, t := range m.tokens {
		snapshot[email] = *t
	}
	return m.store.SaveAll(snapshot)
}

// IssueToken implements spec §4.B's issue_token: the next token in
// round-robin order among usable tokens, with usage_count incremented.
func (m *Manager) IssueToken() (accessToken, accountEmail string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.order) == 0 {
		return "", "", ErrNoTokens
	}

	for range m.order {
		email := m.order[m.cursor]
		m.cursor = (m.cursor + 1) % len(m.order)
		t, ok := m.tokens[email]
		if !ok || t.Unusable {
			continue
		}
		t.UsageCount++
		t.LastUsed = m.now()
		if err := m.persistLocked(); err != nil {
			return "", "", err
		}
		return t.AccessToken, t.AccountEmail, nil
	}
	return "", "", ErrNoTokens
}

// BeginAuth starts a PKCE authorization-code flow for accountEmail and
// returns the URL the user should be redirected to.
func (m *Manager) BeginAuth(accountEmail string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	verifier := oauth2.GenerateVerifier()
	state := verifier[:16]
	m.pending[accountEmail] = pendingAuth{verifier: verifier, state: state}
	return m.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode implements spec §4.B's exchange_code: completes the PKCE
// exchange against the provider's token endpoint and stores the result.
// On success, the token's refresh schedule starts implicitly — the next
// refresh sweep will pick it up once it's within the refresh lead window.
func (m *Manager) ExchangeCode(ctx context.Context, accountEmail, code string) error {
	m.mu.Lock()
	pending, ok := m.pending[accountEmail]
	m.mu.Unlock()

	var opts []oauth2.AuthCodeOption
	if ok {
		opts = append(opts, oauth2.VerifierOption(pending.verifier))
	}
	oauthTok, err := m.cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return fmt.Errorf("oauth: exchange code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, accountEmail)

	t := &Token{
		AccessToken:  oauthTok.AccessToken,
		RefreshToken: oauthTok.RefreshToken,
		ExpiresAt:    oauthTok.Expiry,
		AccountEmail: accountEmail,
		Scopes:       m.cfg.Scopes,
	}
	m.tokens[accountEmail] = t
	m.rebuildOrderLocked()
	return m.persistLocked()
}

// Refresh implements spec §4.B's refresh: uses the stored refresh_token
// to obtain a new access_token. A failure here does not remove the
// token; it is marked unusable only once the access token is also
// known-expired (see sweep.go, which retries once immediately and
// defers further attempts by an hour).
func (m *Manager) Refresh(ctx context.Context, accountEmail string) error {
	m.mu.Lock()
	t, ok := m.tokens[accountEmail]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	refreshToken := t.RefreshToken
	m.mu.Unlock()

	src := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newTok, err := src.Token()

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok = m.tokens[accountEmail]
	if !ok {
		return ErrNotFound
	}
	if err != nil {
		t.RefreshFailedAt = m.now()
		if t.expired(m.now()) {
			t.Unusable = true
		}
		_ = m.persistLocked()
		return fmt.Errorf("oauth: refresh %s: %w", accountEmail, err)
	}

	t.AccessToken = newTok.AccessToken
	if newTok.RefreshToken != "" {
		t.RefreshToken = newTok.RefreshToken
	}
	t.ExpiresAt = newTok.Expiry
	t.Unusable = false
	t.RefreshFailedAt = time.Time{}
	return m.persistLocked()
}

// Delete implements spec §4.B's delete: removes one token.
func (m *Manager) Delete(accountEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[accountEmail]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, accountEmail)
	m.rebuildOrderLocked()
	return m.persistLocked()
}

// Clear implements spec §4.B's clear: removes every token.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]*Token)
	m.order = nil
	m.cursor = 0
	return m.persistLocked()
}

// Status returns a point-in-time view of every stored token, for
// GET /oauth/status.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.tokens))
	now := m.now()
	for _, email := range m.order {
		t := m.tokens[email]
		out = append(out, Status{
			AccountEmail:     t.AccountEmail,
			ExpiresInSeconds: int64(t.ExpiresAt.Sub(now).Seconds()),
			Healthy:          !t.Unusable,
			UsageCount:       t.UsageCount,
			LastUsed:         t.LastUsed,
			Scopes:           t.Scopes,
		})
	}
	return out
}

// dueForRefresh reports tokens within the refresh lead window that
// haven't already failed their single immediate retry within the last
// hour.
func (m *Manager) dueForRefresh() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var due []string
	for email, t := range m.tokens {
		if t.Unusable {
			continue
		}
		if !t.RefreshFailedAt.IsZero() && now.Sub(t.RefreshFailedAt) < time.Hour {
			continue
		}
		if now.Add(m.lead).Before(t.ExpiresAt) {
			continue
		}
		due = append(due, email)
	}
	sort.Strings(due)
	return due
}
