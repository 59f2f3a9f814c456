package clone

import (
	"strings"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
	"github.com/master-wayne7/gitpure/internal/protocol"
	"github.com/master-wayne7/gitpure/internal/refs"
)

// refPlan is the set of references a clone writes once every object is in
// place.
type refPlan struct {
	refs []refs.Reference
	// symbolic refs besides HEAD, e.g. refs/remotes/origin/HEAD
	symbolic []refs.Reference
	head     refs.Reference
	checkout objects.ID
}

func remoteRef(branch string) string {
	return refs.RemotesPrefix + RemoteName + "/" + strings.TrimPrefix(branch, refs.HeadsPrefix)
}

// planRefs maps the advertisement onto local names. A worktree clone
// tracks every branch under refs/remotes/origin/ and creates only the
// default branch locally; a bare clone mirrors every branch into
// refs/heads/. Tags are kept when their object arrived.
func planRefs(adv *protocol.Advertisement, bare bool, store objects.Reader) (*refPlan, error) {
	p := &refPlan{}
	def, hasDefault := adv.DefaultBranch()
	if hasDefault && !strings.HasPrefix(def.Name, refs.HeadsPrefix) {
		hasDefault = false
	}

	for _, b := range adv.Branches() {
		name := b.Name
		if !bare {
			name = remoteRef(b.Name)
		}
		if !refs.ValidName(name) {
			return nil, errors.Errorf(errors.ErrReference, "remote advertised invalid branch name %q", b.Name)
		}
		p.refs = append(p.refs, refs.Reference{Name: name, Target: b.ID})
	}

	switch {
	case hasDefault:
		if !bare {
			p.refs = append(p.refs, refs.Reference{Name: def.Name, Target: def.ID})
			p.symbolic = append(p.symbolic, refs.Reference{
				Name:     refs.RemotesPrefix + RemoteName + "/" + refs.Head,
				Symbolic: remoteRef(def.Name),
			})
		}
		p.head = refs.Reference{Name: refs.Head, Symbolic: def.Name}
		p.checkout = def.ID
	case !adv.Head.IsZero():
		p.head = refs.Reference{Name: refs.Head, Target: adv.Head}
		p.checkout = adv.Head
	default:
		target := fallbackBranch
		if t, ok := adv.Capabilities.Symref(refs.Head); ok && strings.HasPrefix(t, refs.HeadsPrefix) && refs.ValidName(t) {
			target = t
		}
		p.head = refs.Reference{Name: refs.Head, Symbolic: target}
	}

	for _, r := range adv.Refs {
		if !strings.HasPrefix(r.Name, refs.TagsPrefix) || !refs.ValidName(r.Name) || !store.Contains(r.ID) {
			continue
		}
		p.refs = append(p.refs, refs.Reference{Name: r.Name, Target: r.ID})
	}
	return p, nil
}

// roots are the objects the written refs make reachable.
func (p *refPlan) roots() []objects.ID {
	roots := make([]objects.ID, 0, len(p.refs)+1)
	for _, r := range p.refs {
		roots = append(roots, r.Target)
	}
	if !p.head.IsSymbolic() && !p.head.Target.IsZero() {
		roots = append(roots, p.head.Target)
	}
	return roots
}

// write records the plan, HEAD last.
func (p *refPlan) write(store *refs.Store) error {
	for _, r := range p.refs {
		if err := store.Update(r.Name, r.Target); err != nil {
			return err
		}
	}
	for _, r := range p.symbolic {
		if err := store.SetSymbolic(r.Name, r.Symbolic); err != nil {
			return err
		}
	}
	if p.head.IsSymbolic() {
		return store.SetSymbolic(refs.Head, p.head.Symbolic)
	}
	return store.Update(refs.Head, p.head.Target)
}
