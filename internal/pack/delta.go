package pack

import (
	"github.com/master-wayne7/gitpure/internal/errors"
)

// ApplyDelta reconstructs a target object from its base and a git delta:
// source size, target size, then a run of copy and insert instructions.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	pos := 0
	srcSize, n := deltaSize(delta)
	if n == 0 {
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta has no source size")
	}
	pos += n
	tgtSize, n := deltaSize(delta[pos:])
	if n == 0 {
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta has no target size")
	}
	pos += n
	if srcSize != uint64(len(base)) {
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta expects a %d byte base, got %d", srcSize, len(base))
	}

	// each instruction byte yields at most one base's worth of output
	if tgtSize > uint64(len(delta)-pos)*max(uint64(len(base)), 1) {
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta declares a %d byte target it cannot produce", tgtSize)
	}
	out := make([]byte, 0, min(tgtSize, uint64(len(base))+uint64(len(delta))))
	for pos < len(delta) {
		cmd := delta[pos]
		pos++
		switch {
		case cmd&0x80 != 0:
			var offset, size uint64
			for i := uint(0); i < 4; i++ {
				if cmd&(1<<i) != 0 {
					if pos >= len(delta) {
						return nil, errors.Errorf(errors.ErrCorruptObject, "truncated delta copy offset")
					}
					offset |= uint64(delta[pos]) << (8 * i)
					pos++
				}
			}
			for i := uint(0); i < 3; i++ {
				if cmd&(0x10<<i) != 0 {
					if pos >= len(delta) {
						return nil, errors.Errorf(errors.ErrCorruptObject, "truncated delta copy size")
					}
					size |= uint64(delta[pos]) << (8 * i)
					pos++
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if offset+size > uint64(len(base)) {
				return nil, errors.Errorf(errors.ErrCorruptObject, "delta copies %d bytes at %d from a %d byte base", size, offset, len(base))
			}
			if uint64(len(out))+size > tgtSize {
				return nil, errors.Errorf(errors.ErrCorruptObject, "delta overflows its %d byte target", tgtSize)
			}
			out = append(out, base[offset:offset+size]...)
		case cmd != 0:
			end := pos + int(cmd)
			if end > len(delta) {
				return nil, errors.Errorf(errors.ErrCorruptObject, "truncated delta insert")
			}
			out = append(out, delta[pos:end]...)
			pos = end
		default:
			return nil, errors.Errorf(errors.ErrCorruptObject, "reserved delta instruction")
		}
	}
	if uint64(len(out)) != tgtSize {
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta produced %d bytes, expected %d", len(out), tgtSize)
	}
	return out, nil
}

// deltaSize reads a little-endian base-128 size. n is 0 on truncation.
func deltaSize(b []byte) (size uint64, n int) {
	var shift uint
	for i, c := range b {
		size |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			return size, i + 1
		}
		if shift > 63 {
			return 0, 0
		}
	}
	return 0, 0
}
