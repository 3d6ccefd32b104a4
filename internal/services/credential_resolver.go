package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prudhvinik1/divsync/internal/models"
)

var ErrCredentialNotFound = errors.New("credential not found")

// CredentialSource looks up the raw, still encoded credential value stored
// under name by the host.
type CredentialSource interface {
	Lookup(ctx context.Context, name string) (string, error)
}

type storedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// FileCredentialSource reads a browser cookie export: a JSON array of
// {"name", "value", "domain"} objects. The file is re-read on every lookup so
// a refreshed session is picked up without a restart.
type FileCredentialSource struct {
	path string
}

func NewFileCredentialSource(path string) *FileCredentialSource {
	return &FileCredentialSource{path: path}
}

func (s *FileCredentialSource) Lookup(ctx context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}

	var cookies []storedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return "", fmt.Errorf("failed to parse credential file: %w", err)
	}
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", ErrCredentialNotFound
}

// StaticCredentialSource serves one fixed value, whatever the name.
type StaticCredentialSource struct {
	value string
}

func NewStaticCredentialSource(value string) *StaticCredentialSource {
	return &StaticCredentialSource{value: value}
}

func (s *StaticCredentialSource) Lookup(ctx context.Context, name string) (string, error) {
	if s.value == "" {
		return "", ErrCredentialNotFound
	}
	return s.value, nil
}

type credentialPayload struct {
	AccessToken         string `json:"access_token"`
	IdentityCanonicalID string `json:"identity_canonical_id"`
}

type CredentialResolverConfig struct {
	Source     CredentialSource
	CookieName string
	ProbeURL   string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// CredentialResolver turns the host's stored session into a usable Credential.
// Validity is checked on every call; nothing is cached.
type CredentialResolver struct {
	source     CredentialSource
	cookieName string
	probeURL   string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewCredentialResolver(cfg CredentialResolverConfig) (*CredentialResolver, error) {
	if cfg.Source == nil {
		return nil, errors.New("credential source is required")
	}
	if cfg.CookieName == "" {
		return nil, errors.New("credential cookie name is required")
	}
	if cfg.ProbeURL == "" {
		return nil, errors.New("probe url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CredentialResolver{
		source:     cfg.Source,
		cookieName: cfg.CookieName,
		probeURL:   cfg.ProbeURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Resolve returns the current credential or an error wrapping ErrNoCredential.
func (r *CredentialResolver) Resolve(ctx context.Context) (*models.Credential, error) {
	raw, err := r.source.Lookup(ctx, r.cookieName)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	cred, err := decodeCredential(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	if !cred.ExpiresAt.IsZero() && !r.now().Before(cred.ExpiresAt) {
		r.logger.Info("stored credential has expired", "expires_at", cred.ExpiresAt)
		return nil, fmt.Errorf("%w: token expired", ErrNoCredential)
	}

	if err := r.probe(ctx, cred.AccessToken); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			r.logger.Info("stored credential was rejected", "identity_id", cred.IdentityID)
		} else {
			r.logger.Warn("credential probe failed", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	return cred, nil
}

// decodeCredential unescapes the stored value and reads the access token and
// identity id. The token's exp claim is read without verifying the signature;
// the remote probe is what proves the token is accepted.
func decodeCredential(raw string) (*models.Credential, error) {
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unescape credential: %w", err)
	}

	var payload credentialPayload
	if err := json.Unmarshal([]byte(unescaped), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, errors.New("credential has no access token")
	}

	cred := &models.Credential{
		AccessToken: payload.AccessToken,
		IdentityID:  payload.IdentityCanonicalID,
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(payload.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			cred.ExpiresAt = exp.Time
		}
		if cred.IdentityID == "" {
			if sub, err := claims.GetSubject(); err == nil {
				cred.IdentityID = sub
			}
		}
	}
	return cred, nil
}

func (r *CredentialResolver) probe(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.probeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "probe rejected"}
	}
	return nil
}
