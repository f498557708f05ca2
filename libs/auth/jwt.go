package auth

import (
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles recognised by the booking core.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleDoctor   = "doctor"
	RoleAdmin    = "admin"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for subject with the given lifetime.
func NewClaims(subject, role string, ttl time.Duration) Claims {
	now := time.Now().UTC()
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodHS256.Alg()}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func VerifyRS256(token string, pubKey *rsa.PublicKey) (*Claims, error) {
	if pubKey == nil {
		return nil, ErrInvalidToken
	}
	return parse(token, []string{jwt.SigningMethodRS256.Alg()}, func(*jwt.Token) (any, error) {
		return pubKey, nil
	})
}

func parse(token string, methods []string, keyFunc jwt.Keyfunc) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, keyFunc, jwt.WithValidMethods(methods))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// Verifier accepts HS256 tokens signed with a shared secret and RS256 tokens
// whose kid resolves through a JWKS endpoint.
type Verifier struct {
	secret string
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), jwks: jwks}
}

// Enabled reports whether any verification key material is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && (v.secret != "" || v.jwks != nil)
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	if !v.Enabled() {
		return nil, ErrInvalidToken
	}
	var methods []string
	if v.secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return parse(token, methods, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return []byte(v.secret), nil
		case jwt.SigningMethodRS256.Alg():
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, ErrInvalidToken
			}
			return v.jwks.Get(kid)
		default:
			return nil, ErrInvalidToken
		}
	})
}
