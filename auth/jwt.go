package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmsadair/roster/registry"
)

const (
	defaultCacheTTL         = time.Minute
	defaultCacheNumCounters = 1e5
	defaultCacheMaxCost     = 1e4
	defaultCacheBufferItems = 64
)

// JWTConfig contains the configuration for a JWT checker.
type JWTConfig struct {
	// The HMAC key used to sign and verify tokens.
	SigningKey string
	// The expected "iss" claim. Empty disables the check.
	Issuer string
	// The expected "aud" claim. Empty disables the check.
	Audience string
	// How long a verified token is remembered. Defaults to one minute.
	CacheTTL time.Duration
}

// JWT verifies HS256 bearer tokens and uses the "sub" claim as the caller identity.
// Verified tokens are cached until the earlier of their expiry and the cache TTL.
type JWT struct {
	key      []byte
	issuer   string
	audience string
	cacheTTL time.Duration
	cache    *ristretto.Cache[string, registry.Identity]
	now      func() time.Time
}

// NewJWT creates a new JWT checker.
func NewJWT(cfg JWTConfig) (*JWT, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("auth: signing key must not be empty")
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, registry.Identity]{
		NumCounters: defaultCacheNumCounters,
		MaxCost:     defaultCacheMaxCost,
		BufferItems: defaultCacheBufferItems,
		// Every token costs one unit regardless of its size.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &JWT{
		key:      []byte(cfg.SigningKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cacheTTL: cacheTTL,
		cache:    cache,
		now:      time.Now,
	}, nil
}

// Verify verifies the caller's token and returns the identity it was issued to.
func (j *JWT) Verify(_ context.Context, caller registry.Caller) (registry.Identity, error) {
	if caller.Token == "" {
		return "", ErrMissingToken
	}
	if who, ok := j.cache.Get(caller.Token); ok {
		return who, nil
	}

	claims, err := j.parse(caller.Token)
	if err != nil {
		return "", err
	}
	who := registry.Identity(claims.Subject)

	ttl := j.cacheTTL
	if claims.ExpiresAt != nil {
		ttl = min(ttl, claims.ExpiresAt.Sub(j.now()))
	}
	if ttl > 0 {
		j.cache.SetWithTTL(caller.Token, who, 1, ttl)
	}
	return who, nil
}

// Issue creates a signed token for the identity that expires after ttl.
func (j *JWT) Issue(member registry.Identity, ttl time.Duration) (string, error) {
	if member == "" {
		return "", errors.New("auth: cannot issue a token for an empty identity")
	}
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   string(member),
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
}

// Close releases the resources held by the token cache.
func (j *JWT) Close() {
	j.cache.Close()
}

func (j *JWT) parse(token string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	if j.audience != "" {
		opts = append(opts, jwt.WithAudience(j.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return j.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
