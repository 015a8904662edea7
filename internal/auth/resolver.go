package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/template"
)

const headerAuthorization = "Authorization"

// ErrAuthFailed categorizes an outcome as an auth failure, per spec §4.3:
// "a non-2xx token-endpoint response or missing access_token fails the run
// with an auth error category".
var ErrAuthFailed = errors.New("auth")

// Resolver converts an AuthConfig variant into request headers. Static
// variants are pure template substitution; OAuth2 variants fetch and cache
// a bearer token through a shared TokenCache; jwt signs a token locally.
// A Resolver is safe for concurrent use.
type Resolver struct {
	tmpl       *template.Resolver
	cache      *TokenCache
	httpClient *http.Client
}

// New creates a Resolver backed by tmpl for placeholder substitution in
// auth fields and an empty token cache.
func New(tmpl *template.Resolver) *Resolver {
	return &Resolver{tmpl: tmpl, cache: NewTokenCache(), httpClient: http.DefaultClient}
}

// Headers resolves cfg into the header set to merge onto an outgoing
// request. A nil cfg resolves to no headers.
func (r *Resolver) Headers(ctx context.Context, cfg *specmodel.AuthConfig, requestNumber int) (map[string]string, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Type {
	case specmodel.AuthBearerToken:
		token := r.tmpl.Substitute(cfg.Token, nil, requestNumber)
		return map[string]string{headerAuthorization: "Bearer " + token}, nil

	case specmodel.AuthAPIKey:
		header := r.tmpl.Substitute(cfg.HeaderName, nil, requestNumber)
		key := r.tmpl.Substitute(cfg.Key, nil, requestNumber)
		return map[string]string{header: key}, nil

	case specmodel.AuthOAuth2ClientCredentials, specmodel.AuthOAuth2PasswordGrant:
		token, err := r.oauth2Token(ctx, cfg, requestNumber)
		if err != nil {
			return nil, err
		}
		return map[string]string{headerAuthorization: "Bearer " + token}, nil

	case specmodel.AuthJWT:
		token, err := r.signJWT(cfg, requestNumber)
		if err != nil {
			return nil, err
		}
		return map[string]string{headerAuthorization: "Bearer " + token}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported auth type %q", ErrAuthFailed, cfg.Type)
	}
}

// oauth2Token returns a cached or freshly fetched bearer token for an
// OAuth2 variant. Cache key and refresh-buffer arithmetic follow spec
// §4.3 exactly; the wire fetch itself is delegated to
// golang.org/x/oauth2's client-credentials and password-grant flows,
// which both POST the grant_type form the spec describes.
func (r *Resolver) oauth2Token(ctx context.Context, cfg *specmodel.AuthConfig, requestNumber int) (string, error) {
	key := cfg.CacheKey()
	if token, ok := r.cache.Get(key); ok {
		return token, nil
	}

	tokenURL := r.tmpl.Substitute(cfg.TokenURL, nil, requestNumber)
	clientID := r.tmpl.Substitute(cfg.ClientID, nil, requestNumber)
	scope := r.tmpl.Substitute(cfg.Scope, nil, requestNumber)
	var scopes []string
	if scope != "" {
		scopes = strings.Fields(scope)
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	fetchedAt := time.Now()

	var tok *oauth2.Token
	var err error
	switch cfg.Type {
	case specmodel.AuthOAuth2ClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: r.tmpl.Substitute(cfg.ClientSecret, nil, requestNumber),
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		tok, err = cc.Token(httpCtx)
	case specmodel.AuthOAuth2PasswordGrant:
		pc := &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
			Scopes:   scopes,
		}
		username := r.tmpl.Substitute(cfg.Username, nil, requestNumber)
		password := r.tmpl.Substitute(cfg.Password, nil, requestNumber)
		tok, err = pc.PasswordCredentialsToken(httpCtx, username, password)
	}
	if err != nil || tok == nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: token request failed: %v", ErrAuthFailed, err)
	}

	expiresIn := 3600.0
	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(fetchedAt).Seconds(); d > 0 {
			expiresIn = d
		}
	}
	buffer := expiresIn / 10
	if buffer > 30 {
		buffer = 30
	}
	r.cache.Set(key, tok.AccessToken, fetchedAt.Add(time.Duration(expiresIn-buffer)*time.Second))
	return tok.AccessToken, nil
}

// signJWT signs a token locally for the jwt variant. Only the HMAC
// algorithm family is reachable here: the variant carries a symmetric
// secret, not a private key.
func (r *Resolver) signJWT(cfg *specmodel.AuthConfig, requestNumber int) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(cfg.ExpiresInSeconds) * time.Second).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = r.tmpl.Substitute(cfg.Issuer, nil, requestNumber)
	}
	if cfg.Subject != "" {
		claims["sub"] = r.tmpl.Substitute(cfg.Subject, nil, requestNumber)
	}
	if cfg.Audience != "" {
		claims["aud"] = r.tmpl.Substitute(cfg.Audience, nil, requestNumber)
	}
	for k, v := range cfg.Claims {
		if s, ok := v.(string); ok {
			claims[k] = r.tmpl.Substitute(s, nil, requestNumber)
		} else {
			claims[k] = v
		}
	}

	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return "", fmt.Errorf("%w: unknown jwt algorithm %q", ErrAuthFailed, cfg.Algorithm)
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(r.tmpl.Substitute(cfg.Secret, nil, requestNumber)))
	if err != nil {
		return "", fmt.Errorf("%w: signing jwt: %v", ErrAuthFailed, err)
	}
	return signed, nil
}

// ClearCache evicts cached OAuth2 tokens, entirely or for a single
// AuthConfig's cache key.
func (r *Resolver) ClearCache(cfg *specmodel.AuthConfig) {
	if cfg == nil {
		r.cache.ClearAll()
		return
	}
	r.cache.Clear(cfg.CacheKey())
}
