// Package auth validates the bearer token guarding the op-dispatch
// WebSocket endpoint's dev/admin surface: a JWKS-backed keyfunc whose
// signing keys are fetched when the validator is built (they are not
// refreshed afterwards), one Validate call per connection attempt. This sits alongside — not instead of — the Capability Policy;
// it answers "is this caller allowed to open a connection at all", while
// CP answers "is this specific op/argument granted".
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the application (manifest-scoped) the bearer token was
// issued for.
type Claims struct {
	jwt.RegisteredClaims
	AppID string `json:"app_id"`
}

// JWTValidator validates JWTs using a remote JWKS endpoint.
type JWTValidator struct {
	jwks     keyfunc.Keyfunc
	audience string
	issuer   string
	appID    string
}

// NewJWTValidator creates a validator that fetches signing keys from jwksURL
// and accepts only tokens scoped to appID.
func NewJWTValidator(jwksURL, appID, issuer, audience string) (*JWTValidator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create JWKS keyfunc: %w", err)
	}

	if audience == "" {
		audience = "forge-runtime"
	}
	if issuer == "" {
		issuer = "forge-runtime"
	}

	return &JWTValidator{jwks: k, audience: audience, issuer: issuer, appID: appID}, nil
}

// Validate parses and verifies tokenString, checking audience and app scope.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("get audience: %w", err)
	}
	audienceValid := false
	for _, a := range aud {
		if a == v.audience {
			audienceValid = true
			break
		}
	}
	if !audienceValid {
		return nil, fmt.Errorf("invalid audience")
	}

	if v.appID != "" && claims.AppID != v.appID {
		return nil, fmt.Errorf("app id mismatch: expected %s, got %s", v.appID, claims.AppID)
	}

	return claims, nil
}

// Close is a no-op: the keyfunc's refresh runs on the constructor's
// context, which NewJWTValidator cancels before returning, so there is
// no background refresh left to stop.
func (v *JWTValidator) Close() {}
