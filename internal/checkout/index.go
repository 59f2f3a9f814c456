package checkout

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sort"

	"github.com/pjbgf/sha1cd"
	"github.com/spf13/afero"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
)

const (
	indexSignature = "DIRC"
	indexVersion   = 2
	// fixed part of an entry: ten 32-bit stat fields, the id and the flags
	indexEntryFixed = 10*4 + objects.IDSize + 2
	maxNameLen      = 0xfff
)

// IndexFile is the index inside the git directory.
const IndexFile = "index"

// EncodeIndex renders a version 2 index for entries. Stat fields other
// than size and mtime are zero, so git refreshes them on first use.
func EncodeIndex(entries []Entry) []byte {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	buf.WriteString(indexSignature)
	put32 := func(v uint32) { buf.Write(binary.BigEndian.AppendUint32(nil, v)) }
	put32(indexVersion)
	put32(uint32(len(sorted)))

	for _, e := range sorted {
		put32(uint32(e.ModTime)) // ctime
		put32(0)
		put32(uint32(e.ModTime))
		put32(0)
		put32(0) // dev
		put32(0) // ino
		put32(uint32(e.Mode))
		put32(0) // uid
		put32(0) // gid
		put32(uint32(e.Size))
		buf.Write(e.ID[:])

		nameLen := len(e.Path)
		if nameLen > maxNameLen {
			nameLen = maxNameLen
		}
		buf.Write(binary.BigEndian.AppendUint16(nil, uint16(nameLen)))
		buf.WriteString(e.Path)

		// NUL-terminate and pad the entry to a multiple of eight bytes
		n := indexEntryFixed + len(e.Path)
		pad := 8 - n%8
		buf.Write(make([]byte, pad))
	}

	h := sha1cd.New()
	_, _ = h.Write(buf.Bytes())
	buf.Write(h.Sum(nil))
	return buf.Bytes()
}

// WriteIndex writes the index of a fresh checkout to <gitDir>/index.
func WriteIndex(fs afero.Fs, gitDir string, entries []Entry) error {
	if err := afero.WriteFile(fs, filepath.Join(gitDir, IndexFile), EncodeIndex(entries), 0o644); err != nil {
		return errors.E(errors.ErrCheckout, errors.Wrap(err, "writing index"))
	}
	return nil
}
