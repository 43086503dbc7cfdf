package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRepo map[string]*APIKeyInfo

func (m mapRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if info, ok := m[hash]; ok {
		return info, nil
	}
	return nil, ErrUnknownKey
}

func TestHasher_Verify(t *testing.T) {
	h := NewHasher([]byte("pepper"))
	hash := h.Hash("sk_live_abc")
	repo := mapRepo{hash: {ID: "key-1", KeyHash: hash, Name: "admin"}}

	info, err := h.Verify(context.Background(), repo, "sk_live_abc")
	require.NoError(t, err)
	assert.Equal(t, "key-1", info.ID)

	_, err = h.Verify(context.Background(), repo, "sk_live_wrong")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestHasher_PepperChangesHash(t *testing.T) {
	a := NewHasher([]byte("pepper-a")).Hash("key")
	b := NewHasher([]byte("pepper-b")).Hash("key")
	assert.NotEqual(t, a, b)
}
