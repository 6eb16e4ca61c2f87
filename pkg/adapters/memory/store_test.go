package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	tests.RunManifestStoreContract(t, memory.NewStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, store.Save(ctx, "x", buf))
	buf[0] = 'z'

	got, err := store.Load(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Error(t, store.Save(ctx, "", buf))
}
