package pack

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
	"github.com/master-wayne7/gitpure/internal/testutil"
)

type mapReader map[objects.ID]*objects.Object

func (m mapReader) Get(id objects.ID) (*objects.Object, error) {
	if o, ok := m[id]; ok {
		return o, nil
	}
	return nil, errors.E(errors.ErrReference, objects.ErrNotFound)
}

func (m mapReader) Contains(id objects.ID) bool {
	_, ok := m[id]
	return ok
}

func decode(t *testing.T, data []byte, base objects.Reader) ([]*objects.Object, error) {
	t.Helper()
	return Decode(context.Background(), bytes.NewReader(data), base)
}

func TestDecodeFullObjects(t *testing.T) {
	repo := testutil.Simple()
	objs, err := decode(t, repo.Pack(), nil)
	require.NoError(t, err)
	require.Len(t, objs, len(repo.Objects))
	for i, want := range repo.Objects {
		assert.Equal(t, want.ID, objs[i].ID)
		assert.Equal(t, want.Type, objs[i].Type)
		assert.Equal(t, want.Data, objs[i].Data)
	}
}

func TestDecodeDeltas(t *testing.T) {
	base := objects.NewObject(objects.TypeBlob, []byte("hello world"))
	ofsTarget := []byte("hello gopher")
	chainTarget := []byte("hello gopher!")
	refTarget := []byte("world")

	b := testutil.NewPackBuilder()
	baseIdx := b.Add(base)
	ofsIdx := b.AddOfsDelta(baseIdx, testutil.Delta(base.Data, 0, 6, []byte("gopher")))
	b.AddOfsDelta(ofsIdx, testutil.Delta(ofsTarget, 0, len(ofsTarget), []byte("!")))
	b.AddRefDelta(base.ID, testutil.Delta(base.Data, 6, 5, nil))

	objs, err := decode(t, b.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, objs, 4)
	assert.Equal(t, objects.NewObject(objects.TypeBlob, ofsTarget).ID, objs[1].ID)
	assert.Equal(t, chainTarget, objs[2].Data)
	assert.Equal(t, refTarget, objs[3].Data)
	for _, o := range objs {
		assert.Equal(t, objects.TypeBlob, o.Type)
		assert.NoError(t, o.Verify())
	}
}

func TestDecodeRefDeltaBeforeItsBase(t *testing.T) {
	base := objects.NewObject(objects.TypeBlob, []byte("hello world"))
	b := testutil.NewPackBuilder()
	b.AddRefDelta(base.ID, testutil.Delta(base.Data, 0, 5, nil))
	b.Add(base)

	objs, err := decode(t, b.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(objs[0].Data))
}

func TestDecodeThinPack(t *testing.T) {
	base := objects.NewObject(objects.TypeBlob, []byte("hello world"))
	b := testutil.NewPackBuilder()
	b.AddRefDelta(base.ID, testutil.Delta(base.Data, 0, 5, []byte("!")))

	_, err := decode(t, b.Bytes(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))

	objs, err := decode(t, b.Bytes(), mapReader{base.ID: base})
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(objs[0].Data))
}

func TestDecodeRejectsDeltaCycle(t *testing.T) {
	a := []byte("aaaa")
	c := []byte("cccc")
	idA := objects.NewObject(objects.TypeBlob, a).ID
	idC := objects.NewObject(objects.TypeBlob, c).ID

	// each entry claims the other's result as its base
	b := testutil.NewPackBuilder()
	b.AddRefDelta(idC, testutil.Delta(c, 0, 0, a))
	b.AddRefDelta(idA, testutil.Delta(a, 0, 0, c))

	_, err := decode(t, b.Bytes(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	assert.Contains(t, err.Error(), "unresolvable")
}

func TestDecodeRejectsCorruption(t *testing.T) {
	repo := testutil.Simple()
	good := repo.Pack()

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[len(bad)/2] ^= 0xff
		_, err := decode(t, bad, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := decode(t, good[:len(good)-30], nil)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("signature", func(t *testing.T) {
		b := testutil.NewPackBuilder().Bytes()
		b[0] = 'J'
		_, err := decode(t, b, nil)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("invalid type", func(t *testing.T) {
		b := testutil.NewPackBuilder()
		b.AddRaw(5, nil, []byte("reserved"))
		_, err := decode(t, b.Bytes(), nil)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("dangling offset", func(t *testing.T) {
		b := testutil.NewPackBuilder()
		b.Add(objects.NewObject(objects.TypeBlob, []byte("x")))
		// one byte back lands inside the previous entry, not at its start
		b.AddRaw(testutil.OfsDelta, []byte{1}, testutil.Delta([]byte("x"), 0, 1, nil))
		_, err := decode(t, b.Bytes(), nil)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("object count exceeds body", func(t *testing.T) {
		b := testutil.NewPackBuilder()
		b.DeclareCount(0xFFFFFFFF)
		_, err := decode(t, b.Bytes(), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	})

	t.Run("entry inflates past declared size", func(t *testing.T) {
		b := testutil.NewPackBuilder()
		b.AddSized(uint8(objects.TypeBlob), 4, bytes.Repeat([]byte("a"), 1<<20))
		_, err := decode(t, b.Bytes(), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCorruptObject))
		assert.Contains(t, err.Error(), "inflated to 5 bytes")
	})
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decode(ctx, bytes.NewReader(testutil.Simple().Pack()), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
}
