// Package testutils holds fixtures shared by tests across packages.
package testutils

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// BearerMetadata signs an hour-long HS256 token and returns metadata carrying
// it the way the HTTP transports do. It fails the test immediately on error.
func BearerMetadata(t *testing.T, secret []byte, subject, scope string) domain.Metadata {
	t.Helper()

	signed, err := ctxresolve.Sign(secret, &ctxresolve.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: scope,
	})
	require.NoError(t, err, "Failed to sign token")

	md := domain.Metadata{Transport: domain.TransportInproc, Header: http.Header{}}
	md.Header.Set("Authorization", "Bearer "+signed)
	return md
}

// Sink records the result of every subscription message it receives.
// Closing Gone simulates a transport disconnect.
type Sink struct {
	mu    sync.Mutex
	items []string
	Gone  chan struct{}
}

// NewSink returns a connected Sink.
func NewSink() *Sink {
	return &Sink{Gone: make(chan struct{})}
}

func (s *Sink) Send(_ context.Context, n domain.Notification) error {
	var msg domain.SubscriptionMessage
	if err := json.Unmarshal(n.Params, &msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, string(msg.Result))
	return nil
}

func (s *Sink) Done() <-chan struct{} { return s.Gone }

// Items returns a copy of the recorded results, close notices included.
func (s *Sink) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.items...)
}
