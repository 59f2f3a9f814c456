// Package objects models git commits, trees and blobs, computes their
// content addresses and persists them as loose objects.
package objects

import (
	"fmt"
	"strconv"

	"github.com/pjbgf/sha1cd"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// Type of a git object. The values match the pack encoding.
type Type uint8

// The object types. 5 is reserved; 6 and 7 only exist inside packs.
const (
	TypeInvalid Type = 0
	TypeCommit  Type = 1
	TypeTree    Type = 2
	TypeBlob    Type = 3
	TypeTag     Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the four storable types.
func (t Type) Valid() bool {
	return t >= TypeCommit && t <= TypeTag
}

// ParseType is the inverse of Type.String for storable types.
func ParseType(s string) (Type, error) {
	switch s {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	}
	return TypeInvalid, errors.Errorf(errors.ErrCorruptObject, "unknown object type %q", s)
}

// Object is an immutable, typed byte payload and its content address.
type Object struct {
	ID   ID
	Type Type
	Data []byte
}

// NewObject builds an object and computes its identifier.
func NewObject(t Type, data []byte) *Object {
	return &Object{ID: Hash(t, data), Type: t, Data: data}
}

// Verify recomputes the content hash and compares it to the claimed ID.
func (o *Object) Verify() error {
	if !o.Type.Valid() {
		return errors.Errorf(errors.ErrCorruptObject, "object %s has invalid type %s", o.ID, o.Type)
	}
	if got := Hash(o.Type, o.Data); got != o.ID {
		return errors.Errorf(errors.ErrCorruptObject, "object %s hashes to %s", o.ID, got)
	}
	return nil
}

// header is the "<type> <size>\x00" prefix hashed and stored with the payload.
func header(t Type, size int) []byte {
	return []byte(t.String() + " " + strconv.Itoa(size) + "\x00")
}

// Hash computes the identifier of an object: the SHA-1 of its header and payload.
func Hash(t Type, data []byte) ID {
	hasher := sha1cd.New()
	_, _ = hasher.Write(header(t, len(data)))
	_, _ = hasher.Write(data)
	var id ID
	copy(id[:], hasher.Sum(nil))
	return id
}
