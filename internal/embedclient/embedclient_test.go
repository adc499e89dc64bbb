package embedclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	d := NewDeterministic(16)
	out1, err := d.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	out2, err := d.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestDeterministic_DifferentTextDifferentVector(t *testing.T) {
	d := NewDeterministic(16)
	out, err := d.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, out[0], out[1])
	assert.Len(t, out[0], 16)
}

func TestDeterministic_EmptyInputIsAllowed(t *testing.T) {
	d := NewDeterministic(4)
	out, err := d.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
