package pack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/testutil"
)

func TestApplyDelta(t *testing.T) {
	base := []byte("hello world")
	out, err := ApplyDelta(base, testutil.Delta(base, 0, 6, []byte("gopher")))
	require.NoError(t, err)
	assert.Equal(t, "hello gopher", string(out))

	out, err = ApplyDelta(base, testutil.Delta(base, 6, 5, nil))
	require.NoError(t, err)
	assert.Equal(t, "world", string(out))
}

func TestApplyDeltaRejectsBadInput(t *testing.T) {
	base := []byte("hello world")
	tests := []struct {
		name  string
		base  []byte
		delta []byte
	}{
		{"wrong source size", []byte("short"), testutil.Delta(base, 0, 5, nil)},
		{"copy past base", base, []byte{11, 20, 0x91, 8, 20}},
		{"reserved instruction", base, []byte{11, 1, 0}},
		{"truncated insert", base, []byte{11, 5, 5, 'a'}},
		{"target size mismatch", base, []byte{11, 9, 2, 'a', 'b'}},
		{"empty", base, nil},
		// target size of 1<<62 with a single one byte insert
		{"oversized target", []byte("hello"), []byte{5, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x40, 1, 'x'}},
		{"copy overflows target", base, []byte{11, 2, 0x90, 11}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ApplyDelta(tc.base, tc.delta)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCorruptObject))
		})
	}
}
