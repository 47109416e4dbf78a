package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
	"github.com/resumely/collab-service/pkg/crypto"
)

var (
	ErrTokenPayloadInvalid = errors.New("token payload is invalid")
	ErrTokenExpired        = errors.New("token has expired")
)

// TokenVerifier is the default domain.CredentialVerifier: it decrypts
// AES-GCM encrypted identity tokens, validates them, and caches verified
// identities in the shared cache store so repeated handshakes with the same
// token skip the decryption path. Deployments verifying JWTs against an
// external issuer replace this with their own CredentialVerifier.
type TokenVerifier struct {
	logger domain.Logger
	config config.Provider
	cache  domain.CacheStore
}

// NewTokenVerifier creates a new TokenVerifier.
func NewTokenVerifier(logger domain.Logger, cfg config.Provider, cache domain.CacheStore) *TokenVerifier {
	if logger == nil {
		panic("logger is nil in NewTokenVerifier")
	}
	if cfg == nil {
		panic("config provider is nil in NewTokenVerifier")
	}
	if cache == nil {
		panic("cache store is nil in NewTokenVerifier")
	}
	return &TokenVerifier{logger: logger, config: cfg, cache: cache}
}

// parseAndValidate parses the decrypted token data, validates it, and
// populates an Identity. rawTokenB64 is kept for cache key derivation.
func (v *TokenVerifier) parseAndValidate(decryptedPayload []byte, rawTokenB64 string) (*domain.Identity, error) {
	var identity domain.Identity
	if err := json.Unmarshal(decryptedPayload, &identity); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal token JSON: %v", ErrTokenPayloadInvalid, err)
	}

	if identity.UserID == "" || identity.Role == "" || identity.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: missing essential fields (user_id, role, expires_at)", ErrTokenPayloadInvalid)
	}

	if time.Now().After(identity.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired at %v", ErrTokenExpired, identity.ExpiresAt)
	}

	identity.Token = rawTokenB64
	return &identity, nil
}

// Verify implements domain.CredentialVerifier. It first consults the verified
// token cache; on a miss it decrypts, validates, and caches the identity.
func (v *TokenVerifier) Verify(ctx context.Context, tokenB64 string) (*domain.Identity, error) {
	cacheKey := cachekeys.TokenCacheKey(tokenB64)

	if raw, err := v.cache.Get(ctx, cacheKey); err == nil {
		var identity domain.Identity
		if err := json.Unmarshal([]byte(raw), &identity); err == nil {
			if time.Now().After(identity.ExpiresAt) {
				// Cache TTL should prevent this; defensive re-check.
				v.logger.Warn(ctx, "Cached identity found but token expired", "cache_key", cacheKey)
			} else {
				identity.Token = tokenB64
				v.logger.Debug(ctx, "Verified token found in cache", "cache_key", cacheKey)
				return &identity, nil
			}
		} else {
			v.logger.Warn(ctx, "Failed to unmarshal cached identity, re-verifying", "cache_key", cacheKey, "error", err.Error())
		}
	}

	aesKeyHex := v.config.Get().Auth.TokenAESKey
	if aesKeyHex == "" {
		v.logger.Error(ctx, "Token AES key not configured", "config_key", "auth.token_aes_key")
		return nil, errors.New("application not configured for token verification")
	}

	decryptedPayload, err := crypto.DecryptAESGCM(aesKeyHex, tokenB64)
	if err != nil {
		v.logger.Warn(ctx, "Token decryption failed", "error", err.Error())
		return nil, err
	}

	identity, err := v.parseAndValidate(decryptedPayload, tokenB64)
	if err != nil {
		v.logger.Warn(ctx, "Decrypted token failed validation", "error", err.Error())
		return nil, err
	}

	cacheTTL := time.Duration(v.config.Get().Auth.TokenCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	// Never cache past the token's own expiry.
	if until := time.Until(identity.ExpiresAt); until < cacheTTL {
		cacheTTL = until
	}
	if cacheTTL > 0 {
		if data, err := json.Marshal(identity); err == nil {
			if err := v.cache.Set(ctx, cacheKey, string(data), cacheTTL); err != nil {
				v.logger.Warn(ctx, "Failed to cache verified identity", "cache_key", cacheKey, "error", err.Error())
			}
		}
	}

	v.logger.Debug(ctx, "Token decrypted, validated, and cached", "cache_key", cacheKey, "user_id", identity.UserID)
	return identity, nil
}
