// Package auth verifies and signs the JWTs gateways use to authenticate
// clients: HS256 tokens carrying a client identity, a gateway binding,
// an optional role, and arbitrary custom claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// reservedClaims are excluded from CustomClaims.
var reservedClaims = map[string]bool{
	"sub": true, "gw": true, "exp": true, "iat": true, "iss": true, "aud": true, "role": true,
}

// ErrInvalidToken wraps every rejection reason: malformed segments, bad
// signature against both secrets, or a failed claim check.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the verified, decoded identity of a gateway client.
type Claims struct {
	ClientID     string
	GatewayID    string
	Role         string
	ExpiresAt    time.Time
	CustomClaims map[string]any
}

// Verifier verifies tokens against a primary secret, falling back to a
// previous secret only when the signature itself fails to validate
// (never on expiry or malformed input, where retrying would not help).
type Verifier struct {
	primary  []byte
	previous []byte
}

// NewVerifier builds a Verifier. previous may be empty to disable
// secret rotation.
func NewVerifier(primary, previous string) *Verifier {
	v := &Verifier{primary: []byte(primary)}
	if previous != "" {
		v.previous = []byte(previous)
	}
	return v
}

func keyFunc(key []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}
}

// Verify parses and validates a compact JWS, extracting its claims.
// On a signature mismatch against the primary secret, and only then, it
// retries against the previous secret.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	mc, err := parseWithKey(tokenString, v.primary)
	if err != nil && v.previous != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		mc, err = parseWithKey(tokenString, v.previous)
	}
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromMap(mc)
}

func parseWithKey(tokenString string, key []byte) (jwt.MapClaims, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, mc, keyFunc(key), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return mc, nil
}

func claimsFromMap(mc jwt.MapClaims) (Claims, error) {
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return Claims{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	gw, _ := mc["gw"].(string)
	if gw == "" {
		return Claims{}, fmt.Errorf("%w: missing gw claim", ErrInvalidToken)
	}
	expUnix, ok := mc["exp"].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	exp := time.Unix(int64(expUnix), 0)
	if !exp.After(time.Now()) {
		return Claims{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	role, _ := mc["role"].(string)
	if role == "" {
		role = "client"
	}

	custom := map[string]any{"sub": sub}
	for k, v := range mc {
		if reservedClaims[k] {
			continue
		}
		switch v.(type) {
		case string:
			custom[k] = v
		case []any:
			custom[k] = v
		}
	}

	return Claims{
		ClientID:     sub,
		GatewayID:    gw,
		Role:         role,
		ExpiresAt:    exp,
		CustomClaims: custom,
	}, nil
}

// Signer issues tokens on behalf of a gateway operator, used by tests and
// administrative tooling rather than by clients.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer using the given HMAC secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// SignOptions configures an issued token; zero values take the spec's
// defaults (role "client", 3600s expiry).
type SignOptions struct {
	Role         string
	TTL          time.Duration
	CustomClaims map[string]any
}

// Sign issues an HS256 token for clientID bound to gatewayID.
func (s *Signer) Sign(clientID, gatewayID string, opts SignOptions) (string, error) {
	role := opts.Role
	if role == "" {
		role = "client"
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 3600 * time.Second
	}

	mc := jwt.MapClaims{
		"sub":  clientID,
		"gw":   gatewayID,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	for k, v := range opts.CustomClaims {
		if reservedClaims[k] {
			continue
		}
		mc[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString(s.secret)
}
