package utils

import (
	"time"

	"github.com/golang-jwt/jwt"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"
)

// StateTTL bounds how long an OAuth consent round-trip may take.
const StateTTL = 10 * time.Minute

// StateClaims is the payload carried inside the signed state parameter of a
// connect flow. Verifier holds the PKCE verifier for platforms that use one;
// it never leaves the process unsigned.
type StateClaims struct {
	UserID   string
	Platform string
	Nonce    string
	Verifier string
}

// SignState mints the opaque state string handed to the platform's consent
// page. HMAC-SHA256 over the claims keeps the callback self-contained: no
// server-side session is needed to finish the flow.
func SignState(claims StateClaims, secretKey string, now time.Time) (string, error) {
	if secretKey == "" {
		return "", model.NewError(model.KindConfigMissing, "state signing key is not configured")
	}
	mapClaims := jwt.MapClaims{
		"sub":      claims.UserID,
		"platform": claims.Platform,
		"nonce":    claims.Nonce,
		"iat":      now.Unix(),
		"exp":      now.Add(StateTTL).Unix(),
	}
	if claims.Verifier != "" {
		mapClaims["verifier"] = claims.Verifier
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while signing state token")
		return "", err
	}
	return tokenString, nil
}

// VerifyState checks signature and expiry and returns the embedded claims.
// Every failure maps to AUTH_STATE_INVALID so callers treat forged, expired
// and malformed states the same way.
func VerifyState(tokenString, secretKey string, now time.Time) (*StateClaims, error) {
	parser := &jwt.Parser{SkipClaimsValidation: true}
	parsed, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, model.Errf(model.KindAuthStateInvalid, "unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil || !parsed.Valid {
		return nil, model.NewError(model.KindAuthStateInvalid, "state token failed verification")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, model.NewError(model.KindAuthStateInvalid, "state token has no claims")
	}
	exp, ok := claims["exp"].(float64)
	if !ok || now.Unix() >= int64(exp) {
		return nil, model.NewError(model.KindAuthStateInvalid, "state token expired")
	}

	out := &StateClaims{}
	out.UserID, _ = claims["sub"].(string)
	out.Platform, _ = claims["platform"].(string)
	out.Nonce, _ = claims["nonce"].(string)
	out.Verifier, _ = claims["verifier"].(string)
	if out.UserID == "" || out.Platform == "" {
		return nil, model.NewError(model.KindAuthStateInvalid, "state token missing subject or platform")
	}
	return out, nil
}
