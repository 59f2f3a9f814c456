// Package checkout materializes a tree from the object store into a
// working directory.
package checkout

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/logging"
	"github.com/master-wayne7/gitpure/internal/objects"
)

const defaultWorkers = 8

// Options tune a checkout.
type Options struct {
	// Workers bounds concurrent file writes. Zero means a default.
	Workers int
	Logger  *zap.Logger
}

// Entry is one file written by a checkout, keyed by slash-separated path
// relative to the worktree root.
type Entry struct {
	Path    string
	Mode    objects.Mode
	ID      objects.ID
	Size    int64
	ModTime int64
}

// Result summarizes a checkout.
type Result struct {
	// Entries are sorted by path.
	Entries  []Entry
	Files    int
	Symlinks int
	// Gitlinks counts submodule entries, which are not checked out.
	Gitlinks int
}

type job struct {
	path string
	mode objects.Mode
	id   objects.ID
}

type checkout struct {
	store  objects.Reader
	fs     afero.Fs
	root   string
	logger *zap.Logger

	mu   sync.Mutex
	dirs map[string]bool
}

// Checkout writes the tree treeID beneath root. Directories are created
// when the first file beneath them is written, so empty trees leave no
// trace.
func Checkout(ctx context.Context, store objects.Reader, fs afero.Fs, root string, treeID objects.ID, opts Options) (*Result, error) {
	c := &checkout{
		store:  store,
		fs:     fs,
		root:   root,
		logger: logging.OrNop(opts.Logger),
		dirs:   map[string]bool{"": true},
	}

	res := &Result{}
	var jobs []job
	if err := c.walk(ctx, treeID, "", &jobs, res); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	entries := make([]Entry, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range jobs {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := errors.FromContext(gctx); err != nil {
				return err
			}
			e, err := c.write(jobs[i])
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.FromContext(ctx); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	res.Entries = entries
	for _, e := range entries {
		if e.Mode == objects.ModeSymlink {
			res.Symlinks++
		} else {
			res.Files++
		}
	}
	c.logger.Debug("checked out worktree",
		zap.String("root", root),
		zap.Int("files", res.Files),
		zap.Int("symlinks", res.Symlinks),
		zap.Int("gitlinks", res.Gitlinks),
	)
	return res, nil
}

// walk collects the blobs of a tree in tree order.
func (c *checkout) walk(ctx context.Context, id objects.ID, prefix string, jobs *[]job, res *Result) error {
	tree, err := objects.ReadTree(c.store, id)
	if err != nil {
		return errors.Wrapf(err, "reading tree %s", displayPath(prefix))
	}
	seen := make(map[string]struct{}, len(tree.Entries))
	for _, e := range tree.Entries {
		if err := errors.FromContext(ctx); err != nil {
			return err
		}
		if err := validName(e.Name); err != nil {
			return errors.Wrapf(err, "tree %s", displayPath(prefix))
		}
		if _, dup := seen[e.Name]; dup {
			return errors.Errorf(errors.ErrCheckout, "duplicate entry %q in tree %s", e.Name, displayPath(prefix))
		}
		seen[e.Name] = struct{}{}

		p := path.Join(prefix, e.Name)
		switch {
		case e.Mode.IsTree():
			if err := c.walk(ctx, e.ID, p, jobs, res); err != nil {
				return err
			}
		case e.Mode == objects.ModeGitlink:
			res.Gitlinks++
			c.logger.Debug("skipping submodule", zap.String("path", p), zap.Stringer("commit", e.ID))
		case e.Mode.IsBlob():
			*jobs = append(*jobs, job{path: p, mode: e.Mode, id: e.ID})
		default:
			return errors.Errorf(errors.ErrCheckout, "unsupported mode %s for %s", e.Mode, p)
		}
	}
	return nil
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// validName rejects tree entry names that would escape the worktree or
// write into the git directory.
func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Errorf(errors.ErrCheckout, "invalid path component %q", name)
	case strings.EqualFold(name, ".git"):
		return errors.Errorf(errors.ErrCheckout, "refusing to check out %q", name)
	case strings.ContainsAny(name, "/\x00"), strings.Contains(name, `\`):
		return errors.Errorf(errors.ErrCheckout, "invalid path component %q", name)
	}
	return nil
}

func (c *checkout) abs(rel string) string {
	return filepath.Join(c.root, filepath.FromSlash(rel))
}

// ensureDir creates the directory rel and its parents, failing when a
// non-directory is in the way.
func (c *checkout) ensureDir(rel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureDirLocked(rel)
}

func (c *checkout) ensureDirLocked(rel string) error {
	if c.dirs[rel] {
		return nil
	}
	if parent := path.Dir(rel); parent != "." {
		if err := c.ensureDirLocked(parent); err != nil {
			return err
		}
	}
	p := c.abs(rel)
	fi, err := lstat(c.fs, p)
	switch {
	case err == nil && !fi.IsDir():
		return errors.Errorf(errors.ErrCheckout, "cannot create directory %s: a file is in the way", rel)
	case err == nil:
	case os.IsNotExist(err):
		if err := c.fs.Mkdir(p, 0o755); err != nil && !os.IsExist(err) {
			return errors.E(errors.ErrCheckout, errors.Wrapf(err, "creating directory %s", rel))
		}
	default:
		return errors.E(errors.ErrCheckout, errors.Wrapf(err, "inspecting %s", rel))
	}
	c.dirs[rel] = true
	return nil
}

func lstat(fs afero.Fs, p string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(p)
		return fi, err
	}
	return fs.Stat(p)
}

func (c *checkout) write(j job) (Entry, error) {
	if parent := path.Dir(j.path); parent != "." {
		if err := c.ensureDir(parent); err != nil {
			return Entry{}, err
		}
	}
	data, err := objects.ReadBlob(c.store, j.id)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "reading %s", j.path)
	}

	p := c.abs(j.path)
	if fi, err := lstat(c.fs, p); err == nil && fi.IsDir() {
		return Entry{}, errors.Errorf(errors.ErrCheckout, "cannot write %s: a directory is in the way", j.path)
	}

	switch j.mode {
	case objects.ModeSymlink:
		err = c.symlink(string(data), p)
	case objects.ModeExecutable:
		err = c.writeFile(p, data, 0o755)
	default:
		err = c.writeFile(p, data, 0o644)
	}
	if err != nil {
		return Entry{}, errors.E(errors.ErrCheckout, errors.Wrapf(err, "writing %s", j.path))
	}

	e := Entry{Path: j.path, Mode: j.mode, ID: j.id, Size: int64(len(data))}
	if fi, err := lstat(c.fs, p); err == nil {
		e.ModTime = fi.ModTime().Unix()
	}
	return e, nil
}

func (c *checkout) writeFile(p string, data []byte, perm os.FileMode) error {
	if err := afero.WriteFile(c.fs, p, data, perm); err != nil {
		return err
	}
	return c.fs.Chmod(p, perm)
}

// symlink creates a link when the filesystem supports it and otherwise
// writes the target as a plain file, as git does with core.symlinks=false.
func (c *checkout) symlink(target, p string) error {
	if l, ok := c.fs.(afero.Linker); ok {
		_ = c.fs.Remove(p)
		if err := l.SymlinkIfPossible(target, p); err == nil {
			return nil
		}
	}
	return afero.WriteFile(c.fs, p, []byte(target), 0o644)
}
