// Package gitpure is a small git client core written in Go. It clones
// repositories over the smart HTTP protocol, bare or with a working tree,
// stores the received objects as standard loose objects and exposes the
// resulting branches.
//
//	repo, err := gitpure.CloneFrom(ctx, "https://example.com/project.git", "project", false)
//	if err != nil {
//		return err
//	}
//	branches, err := repo.Branches()
//
// Cancelling ctx aborts a clone at the next negotiation step, transfer
// chunk or checked out file; the call then fails with an error matching
// ErrCancelled and the destination is cleaned up.
package gitpure
