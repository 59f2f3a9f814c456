package objects

import (
	"context"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// CheckConnectivity walks everything reachable from roots and fails with
// ErrCorruptObject if any object is missing. Gitlinks point into other
// repositories and are not followed.
func CheckConnectivity(ctx context.Context, r Reader, roots []ID) (int, error) {
	seen := make(map[ID]struct{})
	stack := append([]ID(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := errors.FromContext(ctx); err != nil {
			return len(seen), err
		}

		obj, err := r.Get(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return len(seen), errors.E(errors.ErrCorruptObject, errors.Wrapf(err, "missing object %s", id))
			}
			return len(seen), err
		}
		switch obj.Type {
		case TypeCommit:
			c, err := ParseCommit(obj.Data)
			if err != nil {
				return len(seen), err
			}
			stack = append(stack, c.Tree)
			stack = append(stack, c.Parents...)
		case TypeTree:
			t, err := ParseTree(obj.Data)
			if err != nil {
				return len(seen), err
			}
			for _, e := range t.Entries {
				if e.Mode != ModeGitlink {
					stack = append(stack, e.ID)
				}
			}
		case TypeTag:
			target, _, err := ParseTagTarget(obj.Data)
			if err != nil {
				return len(seen), err
			}
			stack = append(stack, target)
		}
	}
	return len(seen), nil
}
