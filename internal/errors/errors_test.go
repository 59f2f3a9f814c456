package errors

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Wrap(E(ErrProtocol, io.ErrUnexpectedEOF), "reading advertisement")

	assert.True(t, Is(err, ErrProtocol))
	assert.False(t, Is(err, ErrTransport))
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, ErrProtocol, KindOf(err))
	assert.Equal(t, "reading advertisement: protocol error: unexpected EOF", err.Error())
}

func TestNilStaysNil(t *testing.T) {
	assert.NoError(t, E(ErrCheckout, nil))
	assert.NoError(t, Wrap(nil, "nothing"))
	assert.Nil(t, KindOf(nil))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, FromContext(ctx))

	cancel()
	err := FromContext(ctx)
	require.Error(t, err)
	assert.True(t, Is(err, ErrCancelled))
	assert.True(t, Is(err, context.Canceled))
}
