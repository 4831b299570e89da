package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	src := []byte(`[{"id":1,"wood":100},{"id":2,"wood":250}]`)
	packed, err := Compress(src)
	require.NoError(t, err)
	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestChainHashDependsOnPrevious(t *testing.T) {
	data := []byte("state")
	a := ChainHash(data, "GENESIS")
	b := ChainHash(data, a)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ChainHash(data, "GENESIS"))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("admit: %w", Invalid("not enough %s", "wood"))
	assert.True(t, IsValidation(err))
	assert.Equal(t, "admit: not enough wood", err.Error())

	tr := Transient(errors.New("disk I/O error"))
	assert.ErrorIs(t, tr, ErrTransientStore)
	assert.False(t, IsValidation(tr))
	assert.Nil(t, Transient(nil))
}
