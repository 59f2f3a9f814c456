package gitpure

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/clone"
	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/gitconfig"
	"github.com/master-wayne7/gitpure/internal/objects"
	"github.com/master-wayne7/gitpure/internal/protocol"
	"github.com/master-wayne7/gitpure/internal/refs"
)

const dotGit = ".git"

type (
	// ID is a 20 byte object identifier.
	ID = objects.ID
	// Object is a typed, content-addressed record.
	Object = objects.Object
	// Reference is a named pointer to an object or another reference.
	Reference = refs.Reference
)

// Kind tells bare repositories from those with a working tree.
type Kind int

// Repository kinds.
const (
	KindWorktree Kind = iota
	KindBare
)

func (k Kind) String() string {
	if k == KindBare {
		return "bare"
	}
	return "worktree"
}

// Repository is a local git repository.
type Repository struct {
	fs       afero.Fs
	gitDir   string
	worktree string
	kind     Kind
	objects  *objects.Store
	refs     *refs.Store
	logger   *zap.Logger
}

func newRepository(s *settings, gitDir, worktree string, kind Kind) *Repository {
	return &Repository{
		fs:       s.fs,
		gitDir:   gitDir,
		worktree: worktree,
		kind:     kind,
		objects:  objects.NewStore(s.fs, gitDir, s.logger),
		refs:     refs.NewStore(s.fs, gitDir, s.logger),
		logger:   s.logger,
	}
}

func layout(path string, bare bool) (gitDir, worktree string, kind Kind) {
	if bare {
		return path, "", KindBare
	}
	return filepath.Join(path, dotGit), path, KindWorktree
}

// CloneFrom clones the repository at url into toPath, which must not exist
// or be an empty directory. With bare set the repository metadata is
// written directly into toPath and nothing is checked out.
//
// On failure no Repository is returned and toPath is removed if CloneFrom
// created it, or emptied if it existed beforehand.
func CloneFrom(ctx context.Context, url, toPath string, bare bool, opts ...Option) (*Repository, error) {
	s := newSettings(opts)
	if err := errors.FromContext(ctx); err != nil {
		return nil, err
	}
	path, err := filepath.Abs(toPath)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", toPath)
	}
	created, err := prepareDestination(s.fs, path)
	if err != nil {
		return nil, err
	}

	gitDir, worktree, kind := layout(path, bare)
	repo, err := func() (*Repository, error) {
		if err := clone.InitGitDir(s.fs, gitDir, bare); err != nil {
			return nil, errors.Wrap(err, "initializing repository")
		}
		_, err := clone.Run(ctx, clone.Options{
			URL:      url,
			Fs:       s.fs,
			GitDir:   gitDir,
			Worktree: worktree,
			Bare:     bare,
			Client: &protocol.Client{
				HTTP:      s.httpClient,
				UserAgent: s.userAgent,
				Logger:    s.logger,
			},
			CheckoutWorkers: s.checkoutWorkers,
			Logger:          s.logger,
		})
		if err != nil {
			return nil, err
		}
		return newRepository(s, gitDir, worktree, kind), nil
	}()
	if err != nil {
		if cerr := cleanup(s.fs, path, created); cerr != nil {
			s.logger.Debug("cleaning up failed clone", zap.String("path", path), zap.Error(cerr))
		}
		return nil, err
	}
	return repo, nil
}

// prepareDestination creates path, or checks that an existing path is an
// empty directory. It reports whether the directory was created.
func prepareDestination(fs afero.Fs, path string) (bool, error) {
	fi, err := fs.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return false, errors.E(errors.ErrCheckout, errors.Wrapf(err, "creating %s", path))
		}
		return true, nil
	case err != nil:
		return false, errors.E(errors.ErrCheckout, errors.Wrapf(err, "inspecting %s", path))
	case !fi.IsDir():
		return false, errors.Errorf(errors.ErrCheckout, "destination path %s already exists and is not a directory", path)
	}
	empty, err := afero.IsEmpty(fs, path)
	if err != nil {
		return false, errors.E(errors.ErrCheckout, errors.Wrapf(err, "inspecting %s", path))
	}
	if !empty {
		return false, errors.Errorf(errors.ErrCheckout, "destination path %s already exists and is not an empty directory", path)
	}
	return false, nil
}

func cleanup(fs afero.Fs, path string, created bool) error {
	if created {
		return fs.RemoveAll(path)
	}
	infos, err := afero.ReadDir(fs, path)
	if err != nil {
		return err
	}
	for _, fi := range infos {
		if err := fs.RemoveAll(filepath.Join(path, fi.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Open opens the repository at path: either a working tree root holding a
// .git directory or a bare repository directory.
func Open(path string, opts ...Option) (*Repository, error) {
	s := newSettings(opts)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}

	gitDir, worktree := filepath.Join(abs, dotGit), abs
	if ok, _ := afero.DirExists(s.fs, gitDir); !ok {
		gitDir, worktree = abs, ""
	}
	if !isGitDir(s.fs, gitDir) {
		return nil, errors.Errorf(errors.ErrReference, "%s is not a git repository", path)
	}

	kind := KindWorktree
	cfg, err := gitconfig.Read(s.fs, gitDir)
	switch {
	case err != nil && worktree == "":
		kind = KindBare
	case err != nil:
	case cfg.Core.Bare:
		kind, worktree = KindBare, ""
	case worktree == "":
		// a git dir opened directly, e.g. path/.git
		worktree = filepath.Dir(gitDir)
	}
	return newRepository(s, gitDir, worktree, kind), nil
}

func isGitDir(fs afero.Fs, dir string) bool {
	for _, name := range []string{"objects", "refs"} {
		if ok, _ := afero.DirExists(fs, filepath.Join(dir, name)); !ok {
			return false
		}
	}
	ok, _ := afero.Exists(fs, filepath.Join(dir, refs.Head))
	return ok
}

// Init creates an empty repository at path, or opens the one already
// there.
func Init(path string, bare bool, opts ...Option) (*Repository, error) {
	s := newSettings(opts)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}
	gitDir, worktree, kind := layout(abs, bare)
	if isGitDir(s.fs, gitDir) {
		return Open(abs, opts...)
	}
	if err := clone.InitGitDir(s.fs, gitDir, bare); err != nil {
		return nil, errors.Wrapf(err, "initializing %s", gitDir)
	}
	s.logger.Debug("initialized repository", zap.String("git_dir", gitDir), zap.Stringer("kind", kind))
	return newRepository(s, gitDir, worktree, kind), nil
}

// GitDir is the absolute path of the metadata directory.
func (r *Repository) GitDir() string {
	return r.gitDir
}

// WorktreeDir is the absolute path of the working tree, empty for a bare
// repository.
func (r *Repository) WorktreeDir() string {
	return r.worktree
}

// Kind reports whether the repository is bare.
func (r *Repository) Kind() Kind {
	return r.kind
}

// Branches returns the short names of the local branches, sorted and
// without duplicates. A repository without branches yields an empty slice.
func (r *Repository) Branches() ([]string, error) {
	branches, err := r.refs.LocalBranches()
	if err != nil {
		return nil, errors.Wrap(err, "listing branches")
	}
	return refs.BranchNames(branches), nil
}

// Head returns HEAD without resolving it.
func (r *Repository) Head() (Reference, error) {
	return r.refs.Read(refs.Head)
}

// Resolve turns a revision into an object id. It accepts a full hex id,
// HEAD, or a branch, tag or remote-tracking branch name.
func (r *Repository) Resolve(rev string) (ID, error) {
	if id, err := objects.ParseID(rev); err == nil {
		return id, nil
	}
	for _, name := range []string{rev, refs.HeadsPrefix + rev, refs.TagsPrefix + rev, refs.RemotesPrefix + rev} {
		if !refs.ValidName(name) {
			continue
		}
		ref, err := r.refs.Resolve(name)
		if err == nil {
			return ref.Target, nil
		}
		if !errors.Is(err, refs.ErrNotFound) {
			return ID{}, err
		}
	}
	return ID{}, errors.Errorf(errors.ErrReference, "unknown revision %q", rev)
}

// ReadObject reads and verifies an object.
func (r *Repository) ReadObject(id ID) (*Object, error) {
	return r.objects.Get(id)
}

// WriteBlob stores data as a blob and returns its id.
func (r *Repository) WriteBlob(ctx context.Context, data []byte) (ID, error) {
	obj := objects.NewObject(objects.TypeBlob, data)
	if err := r.objects.Put(ctx, []*objects.Object{obj}); err != nil {
		return ID{}, err
	}
	return obj.ID, nil
}
