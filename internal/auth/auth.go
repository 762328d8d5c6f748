package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	PermissionUpload = "files:upload"
	PermissionDelete = "files:delete"
	PermissionAdmin  = "files:admin"
)

const principalKey = "auth"

const maxJWKSBytes = 1 << 20

var pemPrefix = []byte("-----BEGIN")

// Principal is the caller identified by a verified bearer token.
type Principal struct {
	UserID      string
	Roles       []string
	Permissions []string
}

func (p *Principal) Has(permission string) bool {
	return slices.Contains(p.Permissions, permission)
}

type Config struct {
	JWKSUrl      string
	Issuer       string
	Audience     string
	JWKSCacheTTL int
}

type claims struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

type cachedJWKS struct {
	set       jwk.Set
	expiresAt time.Time
}

// JWKSClient fetches the signing keys and caches them for the configured TTL.
// A stale cache keeps being served when a refresh fails.
type JWKSClient struct {
	url        string
	cacheTTL   time.Duration
	httpClient *http.Client

	mu    sync.RWMutex
	cache *cachedJWKS
}

func NewJWKSClient(url string, cacheTTLSeconds int) *JWKSClient {
	ttl := time.Duration(cacheTTLSeconds) * time.Second
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	return &JWKSClient{
		url:        url,
		cacheTTL:   ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *JWKSClient) fresh() (jwk.Set, bool) {
	if c.cache != nil && time.Now().Before(c.cache.expiresAt) {
		return c.cache.set, true
	}
	return nil, false
}

func (c *JWKSClient) stale(err error) (jwk.Set, error) {
	if c.cache != nil {
		return c.cache.set, nil
	}
	return nil, err
}

func (c *JWKSClient) GetKeySet(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, ok := c.fresh()
	c.mu.RUnlock()
	if ok {
		return set, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.fresh(); ok {
		return set, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.stale(fmt.Errorf("failed to fetch JWKS: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.stale(fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return c.stale(fmt.Errorf("failed to read JWKS: %w", err))
	}

	// Some issuers serve bare PEM public keys instead of a JSON key set.
	set, err = jwk.Parse(body, jwk.WithPEM(bytes.HasPrefix(bytes.TrimSpace(body), pemPrefix)))
	if err != nil {
		return c.stale(fmt.Errorf("failed to parse JWKS: %w", err))
	}

	c.cache = &cachedJWKS{
		set:       set,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
	return set, nil
}

// Verifier checks RS256 bearer tokens against the JWKS, issuer and audience.
type Verifier struct {
	keys   *JWKSClient
	config Config
}

func NewVerifier(keys *JWKSClient, config Config) *Verifier {
	return &Verifier{keys: keys, config: config}
}

// lookupKey finds the key for kid. A set holding one key without a kid, as
// parsed from PEM, matches any kid.
func lookupKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if key, found := set.LookupKeyID(kid); found {
		return key, true
	}
	if set.Len() == 1 {
		if key, ok := set.Key(0); ok && key.KeyID() == "" {
			return key, true
		}
	}
	return nil, false
}

func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token missing kid in header")
		}

		keySet, err := v.keys.GetKeySet(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}

		key, found := lookupKey(keySet, kid)
		if !found {
			return nil, fmt.Errorf("key not found for kid: %s", kid)
		}

		var publicKey interface{}
		if err := key.Raw(&publicKey); err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		return publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	return &Principal{
		UserID:      c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}, nil
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

// Middleware rejects requests without a valid bearer token and stores the
// Principal on the gin context.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}

		principal, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func RequirePermissions(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Not authenticated")
			return
		}

		for _, perm := range required {
			if !principal.Has(perm) {
				abort(c, http.StatusForbidden, "Insufficient permissions")
				return
			}
		}

		c.Next()
	}
}

func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := v.(*Principal)
	return principal, ok
}
