package transport

import (
	"context"
	"crypto"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waabox/deviceauth/internal/domain"
)

// JWTSigner signs with the golang-jwt implementation of the named algorithm.
type JWTSigner struct{}

var _ domain.Signer = JWTSigner{}

// Sign computes the signature on a new goroutine and reports it through done.
func (JWTSigner) Sign(ctx context.Context, alg string, data []byte, key crypto.PrivateKey, done func([]byte, error)) {
	go func() {
		if err := ctx.Err(); err != nil {
			done(nil, err)
			return
		}
		method := jwt.GetSigningMethod(alg)
		if method == nil {
			done(nil, fmt.Errorf("unsupported signing algorithm %q", alg))
			return
		}
		sig, err := method.Sign(string(data), key)
		if err != nil {
			done(nil, fmt.Errorf("signing with %s: %w", alg, err))
			return
		}
		done(sig, nil)
	}()
}
