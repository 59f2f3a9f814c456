package objects

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/master-wayne7/gitpure/internal/errors"
)

func TestTreeEncodeParse(t *testing.T) {
	blob := Hash(TypeBlob, []byte("x"))
	sub := Hash(TypeTree, nil)
	tree := &Tree{Entries: []TreeEntry{
		{Name: "b.txt", Mode: ModeRegular, ID: blob},
		{Name: "a", Mode: ModeTree, ID: sub},
		{Name: "a.txt", Mode: ModeExecutable, ID: blob},
		{Name: "link", Mode: ModeSymlink, ID: blob},
	}}

	parsed, err := ParseTree(tree.Encode())
	require.NoError(t, err)

	// "a.txt" < "a/" because '.' sorts before '/'
	want := []TreeEntry{
		{Name: "a.txt", Mode: ModeExecutable, ID: blob},
		{Name: "a", Mode: ModeTree, ID: sub},
		{Name: "b.txt", Mode: ModeRegular, ID: blob},
		{Name: "link", Mode: ModeSymlink, ID: blob},
	}
	if diff := cmp.Diff(want, parsed.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTreeRejectsTruncation(t *testing.T) {
	tree := &Tree{Entries: []TreeEntry{{Name: "f", Mode: ModeRegular, ID: Hash(TypeBlob, nil)}}}
	payload := tree.Encode()

	_, err := ParseTree(payload[:len(payload)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))

	_, err = ParseTree([]byte("100644 noterminator"))
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("40000")
	require.NoError(t, err)
	assert.True(t, m.IsTree())

	m, err = ParseMode("100664")
	require.NoError(t, err)
	assert.Equal(t, ModeRegular, m)

	m, err = ParseMode("120000")
	require.NoError(t, err)
	assert.True(t, m.IsBlob())

	_, err = ParseMode("777")
	assert.Error(t, err)
}

func TestCommitEncodeParse(t *testing.T) {
	c := &Commit{
		Tree:      Hash(TypeTree, nil),
		Parents:   []ID{Hash(TypeBlob, []byte("p1")), Hash(TypeBlob, []byte("p2"))},
		Author:    "A U Thor <author@example.com> 1700000000 +0000",
		Committer: "A U Thor <author@example.com> 1700000000 +0000",
		Message:   "initial\n",
	}
	parsed, err := ParseCommit(c.Encode())
	require.NoError(t, err)
	if diff := cmp.Diff(c, parsed); diff != "" {
		t.Errorf("commit mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseCommit([]byte("author nobody\n\nno tree"))
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))
}

func TestParseTagTarget(t *testing.T) {
	target := Hash(TypeCommit, []byte("c"))
	payload := []byte("object " + target.String() + "\ntype commit\ntag v1\ntagger T <t@example.com> 0 +0000\n\nrelease\n")
	id, typ, err := ParseTagTarget(payload)
	require.NoError(t, err)
	assert.Equal(t, target, id)
	assert.Equal(t, TypeCommit, typ)

	_, _, err = ParseTagTarget([]byte("tag v1\n"))
	assert.Error(t, err)
}
