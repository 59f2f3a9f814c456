package pack

import (
	"context"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
)

// errPendingBase marks a REF_DELTA whose base has not been resolved yet.
var errPendingBase = errors.New("delta base not resolved yet")

type resolver struct {
	base     objects.Reader
	byOffset map[int64]*entry
	byID     map[objects.ID]*entry
}

// resolveAll resolves entries in rounds. A REF_DELTA may name a base that
// is itself a delta appearing anywhere in the pack, so entries whose base
// is not yet known are retried until a round makes no progress; whatever
// is left then has a missing base or is part of a cycle.
func (r *resolver) resolveAll(ctx context.Context, entries []*entry) error {
	pending := entries
	for len(pending) > 0 {
		var next []*entry
		for _, e := range pending {
			if err := errors.FromContext(ctx); err != nil {
				return err
			}
			if _, err := r.resolve(e); err != nil {
				if errors.Is(err, errPendingBase) {
					next = append(next, e)
					continue
				}
				return err
			}
		}
		if len(next) == len(pending) {
			return errors.Errorf(errors.ErrCorruptObject,
				"%d delta entries are unresolvable (missing base or cycle), first at offset %d", len(next), next[0].offset)
		}
		pending = next
	}
	return nil
}

func (r *resolver) resolve(e *entry) (*objects.Object, error) {
	switch e.state {
	case resolved:
		return e.obj, nil
	case resolving:
		return nil, errors.Errorf(errors.ErrCorruptObject, "delta cycle through offset %d", e.offset)
	}

	if e.typ != typeOfsDelta && e.typ != typeRefDelta {
		e.obj = objects.NewObject(objects.Type(e.typ), e.data)
		r.finish(e)
		return e.obj, nil
	}

	e.state = resolving
	base, err := r.deltaBase(e)
	if err != nil {
		e.state = unresolved
		return nil, err
	}
	data, err := ApplyDelta(base.Data, e.data)
	if err != nil {
		e.state = unresolved
		return nil, errors.Wrapf(err, "applying delta at offset %d", e.offset)
	}
	e.obj = objects.NewObject(base.Type, data)
	r.finish(e)
	return e.obj, nil
}

func (r *resolver) finish(e *entry) {
	e.state = resolved
	e.data = nil
	r.byID[e.obj.ID] = e
}

func (r *resolver) deltaBase(e *entry) (*objects.Object, error) {
	if e.typ == typeOfsDelta {
		b, ok := r.byOffset[e.baseOff]
		if !ok {
			return nil, errors.Errorf(errors.ErrCorruptObject, "delta at offset %d points at %d, which is not an entry", e.offset, e.baseOff)
		}
		return r.resolve(b)
	}

	if b, ok := r.byID[e.baseID]; ok {
		return b.obj, nil
	}
	if r.base != nil && r.base.Contains(e.baseID) {
		return r.base.Get(e.baseID)
	}
	return nil, errPendingBase
}
