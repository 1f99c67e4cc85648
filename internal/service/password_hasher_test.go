package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	first, err := h.Hash("correct horse")
	require.NoError(t, err)
	second, err := h.Hash("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NoError(t, h.Compare(first, "correct horse"))
	assert.Error(t, h.Compare(first, "battery staple"))
}

func TestNewBcryptHasherDefaultsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
}
