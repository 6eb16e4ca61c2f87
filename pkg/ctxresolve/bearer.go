package ctxresolve

import (
	"context"
	"errors"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the handler context produced by Bearer.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// ErrUnauthorized is the wire error for missing or invalid bearer tokens.
var ErrUnauthorized = &domain.RpcError{Code: domain.CodeUnauthorized, Message: "unauthorized"}

// Bearer derives Claims from an HS256 "Authorization: Bearer" token. Policy
// decisions (which claims a handler requires) belong to the next link of the chain.
func Bearer[A any](key []byte, opts ...jwt.ParserOption) Func[A, *Claims] {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)
	parser := jwt.NewParser(opts...)

	return func(_ context.Context, _ A, md domain.Metadata) (*Claims, error) {
		raw, ok := md.BearerToken()
		if !ok {
			return nil, ErrUnauthorized
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			return nil, domain.NewError(ErrUnauthorized.Code, ErrUnauthorized.Message, reason(err))
		}
		return claims, nil
	}
}

// Sign issues an HS256 token for claims. It exists for tests and local tooling.
func Sign(key []byte, claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func reason(err error) string {
	switch {
	case err == nil:
		return "invalid token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	default:
		return "malformed token"
	}
}
