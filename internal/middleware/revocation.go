package middleware

import (
	"context"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"

	"tunelink-backend/internal/database"
	appjwt "tunelink-backend/pkg/jwt"
)

// RedisRevocationChecker implements RevocationChecker against the Redis
// token blacklist. Logout writes "blacklist:<jti>" with the token's
// remaining lifetime as TTL.
type RedisRevocationChecker struct {
	client *database.RedisClient
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *database.RedisClient) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked checks if a token is in the Redis blacklist
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	// Signature was already verified by the auth middleware
	token, _, err := new(gojwt.Parser).ParseUnverified(tokenString, &appjwt.Claims{})
	if err != nil {
		return false, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*appjwt.Claims)
	if !ok {
		return false, fmt.Errorf("invalid claims")
	}

	// Tokens without a jti predate revocation support
	if claims.ID == "" {
		return false, nil
	}

	key := fmt.Sprintf("blacklist:%s", claims.ID)
	exists, err := c.client.SafeExists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}

	return exists > 0, nil
}
