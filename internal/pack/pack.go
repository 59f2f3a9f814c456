// Package pack decodes the packed object stream sent by upload-pack,
// resolving delta entries against their bases.
package pack

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/docker/go-units"
	"github.com/klauspost/compress/zlib"
	"github.com/pjbgf/sha1cd"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/logging"
	"github.com/master-wayne7/gitpure/internal/objects"
)

const (
	signature  = "PACK"
	headerSize = 12

	// an entry header byte plus at least one byte of deflate stream
	minEntrySize = 2

	typeOfsDelta = 6
	typeRefDelta = 7
)

type state uint8

const (
	unresolved state = iota
	resolving
	resolved
)

// entry is one object of the stream as read, before delta resolution.
type entry struct {
	offset  int64
	typ     uint8
	size    int64
	baseOff int64
	baseID  objects.ID
	data    []byte

	state state
	obj   *objects.Object
}

// Decoder reads a pack stream into fully resolved objects.
type Decoder struct {
	// Base resolves REF_DELTA bases that are not in the pack (thin packs).
	// May be nil.
	Base   objects.Reader
	Logger *zap.Logger
}

// Decode reads a pack from r and returns every object it contains with
// deltas applied. Either every entry decodes, resolves and the trailer
// checksum matches, or an error is returned and no objects are.
func Decode(ctx context.Context, r io.Reader, base objects.Reader) ([]*objects.Object, error) {
	d := &Decoder{Base: base}
	return d.Decode(ctx, r)
}

// Decode reads a pack from r.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) ([]*objects.Object, error) {
	logger := logging.OrNop(d.Logger)

	packData, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(packData) < headerSize+objects.IDSize {
		return nil, errors.Errorf(errors.ErrCorruptObject, "pack too short: %d bytes", len(packData))
	}
	body, trailer := packData[:len(packData)-objects.IDSize], packData[len(packData)-objects.IDSize:]
	hasher := sha1cd.New()
	_, _ = hasher.Write(body)
	if !bytes.Equal(hasher.Sum(nil), trailer) {
		return nil, errors.Errorf(errors.ErrCorruptObject, "pack checksum mismatch")
	}

	reader := bytes.NewReader(body)
	if string(body[:4]) != signature {
		return nil, errors.Errorf(errors.ErrCorruptObject, "invalid pack signature %q", body[:4])
	}
	version := binary.BigEndian.Uint32(body[4:8])
	if version != 2 && version != 3 {
		return nil, errors.Errorf(errors.ErrCorruptObject, "unsupported pack version %d", version)
	}
	count := binary.BigEndian.Uint32(body[8:12])
	if int64(count) > int64(len(body)-headerSize)/minEntrySize {
		return nil, errors.Errorf(errors.ErrCorruptObject, "pack claims %d objects in %d bytes", count, len(body)-headerSize)
	}
	if _, err := reader.Seek(headerSize, io.SeekStart); err != nil {
		return nil, err
	}
	logger.Debug("decoding pack",
		zap.Uint32("objects", count),
		zap.String("size", units.HumanSize(float64(len(packData)))),
	)

	entries := make([]*entry, 0, count)
	byOffset := make(map[int64]*entry, count)
	for i := uint32(0); i < count; i++ {
		if err := errors.FromContext(ctx); err != nil {
			return nil, err
		}
		offset := int64(len(body) - reader.Len())
		e, err := readEntry(reader, offset)
		if err != nil {
			return nil, errors.Wrapf(err, "reading pack entry %d at offset %d", i, offset)
		}
		entries = append(entries, e)
		byOffset[offset] = e
	}
	if reader.Len() != 0 {
		return nil, errors.Errorf(errors.ErrCorruptObject, "%d trailing bytes after last pack entry", reader.Len())
	}

	res := &resolver{base: d.Base, byOffset: byOffset, byID: make(map[objects.ID]*entry, count)}
	if err := res.resolveAll(ctx, entries); err != nil {
		return nil, err
	}

	out := make([]*objects.Object, len(entries))
	for i, e := range entries {
		out[i] = e.obj
	}
	return out, nil
}

// readEntry reads an entry header and its inflated payload.
func readEntry(reader *bytes.Reader, offset int64) (*entry, error) {
	typ, size, err := readEntryHeader(reader)
	if err != nil {
		return nil, err
	}
	e := &entry{offset: offset, typ: typ, size: size}

	switch typ {
	case typeOfsDelta:
		rel, err := readOffset(reader)
		if err != nil {
			return nil, err
		}
		if rel <= 0 || rel > offset {
			return nil, errors.Errorf(errors.ErrCorruptObject, "delta base offset %d out of range", rel)
		}
		e.baseOff = offset - rel
	case typeRefDelta:
		if _, err := io.ReadFull(reader, e.baseID[:]); err != nil {
			return nil, errors.E(errors.ErrCorruptObject, errors.Wrap(err, "reading delta base id"))
		}
	case uint8(objects.TypeCommit), uint8(objects.TypeTree), uint8(objects.TypeBlob), uint8(objects.TypeTag):
	default:
		return nil, errors.Errorf(errors.ErrCorruptObject, "invalid pack object type %d", typ)
	}

	zr, err := zlib.NewReader(reader)
	if err != nil {
		return nil, errors.E(errors.ErrCorruptObject, errors.Wrap(err, "inflating entry"))
	}
	var content bytes.Buffer
	if _, err := io.Copy(&content, io.LimitReader(zr, size+1)); err != nil {
		return nil, errors.E(errors.ErrCorruptObject, errors.Wrap(err, "inflating entry"))
	}
	if err := zr.Close(); err != nil {
		return nil, errors.E(errors.ErrCorruptObject, errors.Wrap(err, "closing entry stream"))
	}
	if int64(content.Len()) != size {
		return nil, errors.Errorf(errors.ErrCorruptObject, "entry inflated to %d bytes, header says %d", content.Len(), size)
	}
	e.data = content.Bytes()
	return e, nil
}

// readEntryHeader reads the type and the variable-length size.
func readEntryHeader(reader io.ByteReader) (uint8, int64, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return 0, 0, errors.E(errors.ErrCorruptObject, err)
	}
	typ := (b >> 4) & 7
	size := int64(b & 15)
	shift := uint(4)
	for b&0x80 != 0 {
		if b, err = reader.ReadByte(); err != nil {
			return 0, 0, errors.E(errors.ErrCorruptObject, err)
		}
		if shift > 56 {
			return 0, 0, errors.Errorf(errors.ErrCorruptObject, "entry size overflows")
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return typ, size, nil
}

// readOffset reads an OFS_DELTA distance. Each continuation byte adds one
// before shifting so that every value has a single encoding.
func readOffset(reader io.ByteReader) (int64, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return 0, errors.E(errors.ErrCorruptObject, err)
	}
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		if b, err = reader.ReadByte(); err != nil {
			return 0, errors.E(errors.ErrCorruptObject, err)
		}
		if offset > (1<<55)-1 {
			return 0, errors.Errorf(errors.ErrCorruptObject, "delta offset overflows")
		}
		offset = ((offset + 1) << 7) | int64(b&0x7f)
	}
	return offset, nil
}
