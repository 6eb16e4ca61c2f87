// Package tests holds reusable contract suites for port implementations.
package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunManifestStoreContract verifies that a ManifestStore adapter honours the port.
// The store must be empty when the suite starts.
func RunManifestStoreContract(t *testing.T, store ports.ManifestStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load_NotFound", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrManifestNotFound)
	})

	t.Run("Save_And_Load", func(t *testing.T) {
		data := []byte("export type Server = {};\n")
		require.NoError(t, store.Save(ctx, "server.ts", data))

		loaded, err := store.Load(ctx, "server.ts")
		require.NoError(t, err)
		assert.Equal(t, data, loaded)
	})

	t.Run("Save_Overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "server.ts", []byte("v1")))
		require.NoError(t, store.Save(ctx, "server.ts", []byte("v2")))

		loaded, err := store.Load(ctx, "server.ts")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(loaded))
	})

	t.Run("List_Sorted", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "openapi.json", []byte("{}")))

		names, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"openapi.json", "server.ts"}, names)
	})

	t.Run("Concurrent_Saves", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, fmt.Sprintf("c%d.ts", i), []byte("x")))
			}()
		}
		wg.Wait()

		names, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, names, 10)
	})
}
