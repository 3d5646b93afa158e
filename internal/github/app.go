package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	jwtBackdate = 60 * time.Second
	jwtLifetime = 9 * time.Minute

	// DefaultTokenRefreshMargin is how long a cached installation token must
	// still be valid to be handed out. It has to cover a whole run.
	DefaultTokenRefreshMargin = 15 * time.Minute
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// App authenticates as a GitHub App and mints installation clients.
type App struct {
	ID      int64
	BaseURL string

	key             *rsa.PrivateKey
	httpClient      *http.Client
	writesPerSecond float64
	refreshMargin   time.Duration
	now             func() time.Time

	mu       sync.Mutex
	tokens   map[int64]cachedToken
	limiters map[int64]*rate.Limiter
}

type AppOption func(*App)

// WithAppHTTPClient replaces the HTTP client of the app and its installation clients.
func WithAppHTTPClient(httpClient *http.Client) AppOption {
	return func(a *App) {
		a.httpClient = httpClient
	}
}

// WithWritesPerSecond sets the per-installation write budget. Zero disables pacing.
func WithWritesPerSecond(n float64) AppOption {
	return func(a *App) {
		a.writesPerSecond = n
	}
}

// WithTokenRefreshMargin sets how much lifetime a cached installation token
// needs left to be reused. Pass at least the longest run duration.
func WithTokenRefreshMargin(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.refreshMargin = d
		}
	}
}

// NewApp parses the PEM encoded private key of the app.
func NewApp(id int64, privateKeyPEM []byte, baseURL string, opts ...AppOption) (*App, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	a := &App{
		ID:         id,
		BaseURL:    baseURL,
		key:        key,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		refreshMargin: DefaultTokenRefreshMargin,
		now:           time.Now,
		tokens:        make(map[int64]cachedToken),
		limiters:      make(map[int64]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// JWT signs a short lived app token.
func (a *App) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(a.ID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app token: %w", err)
	}
	return signed, nil
}

func (a *App) appClient() (*Client, error) {
	token, err := a.JWT()
	if err != nil {
		return nil, err
	}
	return newClient(a.BaseURL, "Bearer "+token, WithHTTPClient(a.httpClient)), nil
}

// InstallationToken returns a cached installation token or mints a new one.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	cached, ok := a.tokens[installationID]
	a.mu.Unlock()
	if ok && a.now().Add(a.refreshMargin).Before(cached.expiresAt) {
		return cached.token, nil
	}

	client, err := a.appClient()
	if err != nil {
		return "", err
	}

	var token InstallationToken
	endpoint := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	if _, err := client.do(ctx, request{method: http.MethodPost, endpoint: endpoint}, &token); err != nil {
		return "", fmt.Errorf("failed to create installation token for %d: %w", installationID, err)
	}

	expiresAt, err := time.Parse(time.RFC3339, token.ExpiresAt)
	if err != nil {
		// without a usable expiry the token is not cached
		expiresAt = a.now()
	}

	a.mu.Lock()
	a.tokens[installationID] = cachedToken{token: token.Token, expiresAt: expiresAt}
	a.mu.Unlock()

	zerolog.Ctx(ctx).Debug().
		Int64("installation", installationID).
		Time("expiresAt", expiresAt).
		Msg("minted installation token")

	return token.Token, nil
}

// InstallationClient returns a client acting as the given installation. Clients
// of the same installation share one write limiter.
func (a *App) InstallationClient(ctx context.Context, installationID int64) (*Client, error) {
	token, err := a.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	opts := []ClientOption{WithHTTPClient(a.httpClient)}
	if limiter := a.limiter(installationID); limiter != nil {
		opts = append(opts, WithWriteLimiter(limiter))
	}
	return NewClient(a.BaseURL, token, opts...), nil
}

// RepositoryInstallation looks up the installation id of the app on repo.
func (a *App) RepositoryInstallation(ctx context.Context, repo RepoRef) (int64, error) {
	client, err := a.appClient()
	if err != nil {
		return 0, err
	}

	var installation struct {
		ID int64 `json:"id"`
	}
	if _, err := client.do(ctx, request{method: http.MethodGet, endpoint: repoPath(repo) + "/installation"}, &installation); err != nil {
		return 0, fmt.Errorf("failed to find installation for %s: %w", repo, err)
	}
	return installation.ID, nil
}

func (a *App) limiter(installationID int64) *rate.Limiter {
	if a.writesPerSecond <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	limiter, ok := a.limiters[installationID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(a.writesPerSecond), 1)
		a.limiters[installationID] = limiter
	}
	return limiter
}
