package objects

import (
	"encoding/hex"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// IDSize is the width of an object identifier in bytes.
const IDSize = 20

// ID is the SHA-1 content hash identifying an object.
type ID [IDSize]byte

// ZeroID is the all-zero identifier git uses for "no object".
var ZeroID ID

// ParseID decodes a 40 character hex identifier.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 2*IDSize {
		return id, errors.Errorf(errors.ErrReference, "invalid object id %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, errors.E(errors.ErrReference, errors.Wrapf(err, "invalid object id %q", s))
	}
	return id, nil
}

// IDFromBytes copies a raw 20 byte identifier.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, errors.Errorf(errors.ErrCorruptObject, "raw object id has %d bytes", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is ZeroID.
func (id ID) IsZero() bool {
	return id == ZeroID
}
