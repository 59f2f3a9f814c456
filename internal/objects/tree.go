package objects

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// Mode of a tree entry, as the octal number stored in the tree.
type Mode uint32

// Tree entry modes.
const (
	ModeTree       Mode = 0o040000
	ModeRegular    Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeGitlink    Mode = 0o160000
)

// ParseMode decodes an octal tree mode. Legacy group-writable blob modes
// collapse to ModeRegular.
func ParseMode(s string) (Mode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errors.E(errors.ErrCorruptObject, errors.Wrapf(err, "invalid tree mode %q", s))
	}
	switch m := Mode(v); {
	case m == ModeTree, m == ModeRegular, m == ModeExecutable, m == ModeSymlink, m == ModeGitlink:
		return m, nil
	case m&0o170000 == 0o100000:
		return ModeRegular, nil
	}
	return 0, errors.Errorf(errors.ErrCorruptObject, "unsupported tree mode %q", s)
}

func (m Mode) String() string {
	return strconv.FormatUint(uint64(m), 8)
}

// IsTree reports whether the entry is a subtree.
func (m Mode) IsTree() bool { return m == ModeTree }

// IsBlob reports whether the entry is a regular, executable or symlink blob.
func (m Mode) IsBlob() bool {
	return m == ModeRegular || m == ModeExecutable || m == ModeSymlink
}

// TreeEntry is one named child of a tree.
type TreeEntry struct {
	Name string
	Mode Mode
	ID   ID
}

// Tree is an ordered directory listing.
type Tree struct {
	Entries []TreeEntry
}

// ParseTree decodes a tree payload: repeated "<mode> <name>\x00<20 byte id>".
func ParseTree(payload []byte) (*Tree, error) {
	tree := &Tree{}
	cursor := 0
	for cursor < len(payload) {
		spaceIdx := bytes.IndexByte(payload[cursor:], ' ')
		if spaceIdx == -1 {
			return nil, errors.Errorf(errors.ErrCorruptObject, "tree entry at %d has no mode", cursor)
		}
		mode, err := ParseMode(string(payload[cursor : cursor+spaceIdx]))
		if err != nil {
			return nil, err
		}
		cursor += spaceIdx + 1

		nullIdx := bytes.IndexByte(payload[cursor:], 0)
		if nullIdx <= 0 {
			return nil, errors.Errorf(errors.ErrCorruptObject, "tree entry at %d has no name", cursor)
		}
		name := string(payload[cursor : cursor+nullIdx])
		cursor += nullIdx + 1

		if len(payload)-cursor < IDSize {
			return nil, errors.Errorf(errors.ErrCorruptObject, "tree entry %q is truncated", name)
		}
		id, _ := IDFromBytes(payload[cursor : cursor+IDSize])
		cursor += IDSize

		tree.Entries = append(tree.Entries, TreeEntry{Name: name, Mode: mode, ID: id})
	}
	return tree, nil
}

// Encode serializes the tree in git's canonical entry order, where a
// subtree sorts as if its name ended with '/'.
func (t *Tree) Encode() []byte {
	entries := append([]TreeEntry(nil), t.Entries...)
	sortKey := func(e TreeEntry) string {
		if e.Mode.IsTree() {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool {
		return sortKey(entries[i]) < sortKey(entries[j])
	})

	var payload bytes.Buffer
	for _, e := range entries {
		payload.WriteString(e.Mode.String())
		payload.WriteByte(' ')
		payload.WriteString(e.Name)
		payload.WriteByte(0)
		payload.Write(e.ID[:])
	}
	return payload.Bytes()
}
