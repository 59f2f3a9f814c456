// Package testutil builds object fixtures, pack streams and a smart HTTP
// server for tests.
package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
	"github.com/pjbgf/sha1cd"

	"github.com/master-wayne7/gitpure/internal/objects"
)

// Pack entry types for deltas.
const (
	OfsDelta = 6
	RefDelta = 7
)

// PackBuilder assembles a version 2 pack stream.
type PackBuilder struct {
	body     bytes.Buffer
	count    uint32
	declared *uint32
	offsets  []int64
}

// NewPackBuilder returns an empty builder.
func NewPackBuilder() *PackBuilder {
	return &PackBuilder{}
}

// Add appends a full object and returns its entry index.
func (b *PackBuilder) Add(obj *objects.Object) int {
	return b.entry(uint8(obj.Type), obj.Data, nil)
}

// AddOfsDelta appends a delta against the entry at index base.
func (b *PackBuilder) AddOfsDelta(base int, delta []byte) int {
	rel := b.nextOffset() - b.offsets[base]
	return b.entry(OfsDelta, delta, encodeOffset(rel))
}

// AddRefDelta appends a delta against the object with the given id.
func (b *PackBuilder) AddRefDelta(base objects.ID, delta []byte) int {
	return b.entry(RefDelta, delta, base[:])
}

// AddRaw appends an entry with an arbitrary type and extra header bytes.
func (b *PackBuilder) AddRaw(typ uint8, extra, payload []byte) int {
	return b.entry(typ, payload, extra)
}

// AddSized appends a full entry whose header declares size rather than the
// payload length.
func (b *PackBuilder) AddSized(typ uint8, size uint64, payload []byte) int {
	return b.sizedEntry(typ, size, payload, nil)
}

// DeclareCount overrides the object count written in the pack header.
func (b *PackBuilder) DeclareCount(n uint32) {
	b.declared = &n
}

func (b *PackBuilder) nextOffset() int64 {
	return int64(12 + b.body.Len())
}

func (b *PackBuilder) entry(typ uint8, payload, extra []byte) int {
	return b.sizedEntry(typ, uint64(len(payload)), payload, extra)
}

func (b *PackBuilder) sizedEntry(typ uint8, size uint64, payload, extra []byte) int {
	b.offsets = append(b.offsets, b.nextOffset())
	b.count++

	c := typ<<4 | byte(size&15)
	size >>= 4
	for size > 0 {
		b.body.WriteByte(c | 0x80)
		c = byte(size & 0x7f)
		size >>= 7
	}
	b.body.WriteByte(c)
	b.body.Write(extra)

	w := zlib.NewWriter(&b.body)
	_, _ = w.Write(payload)
	_ = w.Close()
	return len(b.offsets) - 1
}

// Bytes returns the complete pack including the trailing checksum.
func (b *PackBuilder) Bytes() []byte {
	var out bytes.Buffer
	count := b.count
	if b.declared != nil {
		count = *b.declared
	}
	out.WriteString("PACK")
	out.Write(binary.BigEndian.AppendUint32(nil, 2))
	out.Write(binary.BigEndian.AppendUint32(nil, count))
	out.Write(b.body.Bytes())
	h := sha1cd.New()
	_, _ = h.Write(out.Bytes())
	out.Write(h.Sum(nil))
	return out.Bytes()
}

// BuildPack packs full objects.
func BuildPack(objs []*objects.Object) []byte {
	b := NewPackBuilder()
	for _, o := range objs {
		b.Add(o)
	}
	return b.Bytes()
}

func encodeOffset(rel int64) []byte {
	buf := []byte{byte(rel & 0x7f)}
	for rel >>= 7; rel > 0; rel >>= 7 {
		rel--
		buf = append([]byte{byte(0x80 | rel&0x7f)}, buf...)
	}
	return buf
}

// Delta encodes a delta that copies base[off:off+n] and then inserts tail.
func Delta(base []byte, off, n int, tail []byte) []byte {
	var d []byte
	d = appendSize(d, uint64(len(base)))
	d = appendSize(d, uint64(n+len(tail)))
	if n > 0 {
		cmd := byte(0x80)
		var args []byte
		for i := 0; i < 4; i++ {
			if v := byte(off >> (8 * i)); v != 0 {
				cmd |= 1 << i
				args = append(args, v)
			}
		}
		for i := 0; i < 3; i++ {
			if v := byte(n >> (8 * i)); v != 0 {
				cmd |= 0x10 << i
				args = append(args, v)
			}
		}
		d = append(d, cmd)
		d = append(d, args...)
	}
	for len(tail) > 0 {
		chunk := tail
		if len(chunk) > 127 {
			chunk = chunk[:127]
		}
		d = append(d, byte(len(chunk)))
		d = append(d, chunk...)
		tail = tail[len(chunk):]
	}
	return d
}

func appendSize(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}
