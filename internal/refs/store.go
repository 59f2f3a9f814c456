// Package refs reads and writes references in the standard refs/ layout
// of a git directory, including HEAD and packed-refs.
package refs

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/logging"
	"github.com/master-wayne7/gitpure/internal/objects"
)

const (
	maxSymrefDepth = 5
	symrefPrefix   = "ref: "
	packedRefsFile = "packed-refs"
	lockSuffix     = ".lock"
)

// ErrNotFound is returned (tagged ErrReference) for references that do not exist.
var ErrNotFound = errors.New("reference not found")

// Reference is a named pointer either to an object or, when Symbolic is
// set, to another reference.
type Reference struct {
	Name     string
	Target   objects.ID
	Symbolic string
}

// IsSymbolic reports whether the reference points at another reference.
func (r Reference) IsSymbolic() bool {
	return r.Symbolic != ""
}

func (r Reference) String() string {
	if r.IsSymbolic() {
		return r.Name + " -> " + r.Symbolic
	}
	return r.Name + " " + r.Target.String()
}

// Store manages the references of one git directory.
type Store struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// NewStore opens the reference store of the repository at gitDir.
func NewStore(fs afero.Fs, gitDir string, logger *zap.Logger) *Store {
	return &Store{fs: fs, dir: gitDir, logger: logging.OrNop(logger)}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Update points name at id.
func (s *Store) Update(name string, id objects.ID) error {
	if id.IsZero() {
		return errors.Errorf(errors.ErrReference, "refusing to point %s at the zero id", name)
	}
	if err := s.write(name, id.String()+"\n"); err != nil {
		return err
	}
	s.logger.Debug("updated ref", zap.String("name", name), zap.Stringer("id", id))
	return nil
}

// SetSymbolic makes name a symbolic reference to target.
func (s *Store) SetSymbolic(name, target string) error {
	if !ValidName(target) || target == Head {
		return errors.Errorf(errors.ErrReference, "invalid symbolic ref target %q", target)
	}
	if err := s.write(name, symrefPrefix+target+"\n"); err != nil {
		return err
	}
	s.logger.Debug("updated symbolic ref", zap.String("name", name), zap.String("target", target))
	return nil
}

// write replaces a loose ref through a lock file so readers never see a
// partial value.
func (s *Store) write(name, content string) error {
	if !ValidName(name) {
		return errors.Errorf(errors.ErrReference, "invalid reference name %q", name)
	}
	p := s.path(name)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.E(errors.ErrReference, errors.Wrapf(err, "creating directory for %s", name))
	}
	lock := p + lockSuffix
	f, err := s.fs.OpenFile(lock, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Errorf(errors.ErrReference, "reference %s is locked", name)
		}
		return errors.E(errors.ErrReference, errors.Wrapf(err, "locking %s", name))
	}
	_, werr := io.WriteString(f, content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = s.fs.Remove(lock)
		return errors.E(errors.ErrReference, errors.Wrapf(werr, "writing %s", name))
	}
	if err := s.fs.Rename(lock, p); err != nil {
		_ = s.fs.Remove(lock)
		return errors.E(errors.ErrReference, errors.Wrapf(err, "committing %s", name))
	}
	return nil
}

// Read returns a reference without following it. Loose refs take
// precedence over packed-refs.
func (s *Store) Read(name string) (Reference, error) {
	if !ValidName(name) {
		return Reference{}, errors.Errorf(errors.ErrReference, "invalid reference name %q", name)
	}
	data, err := afero.ReadFile(s.fs, s.path(name))
	switch {
	case err == nil:
		return parseLoose(name, data)
	case !os.IsNotExist(err) && !isDirErr(s.fs, s.path(name)):
		return Reference{}, errors.E(errors.ErrReference, errors.Wrapf(err, "reading %s", name))
	}

	packed, err := s.packed()
	if err != nil {
		return Reference{}, err
	}
	if id, ok := packed[name]; ok {
		return Reference{Name: name, Target: id}, nil
	}
	return Reference{}, errors.E(errors.ErrReference, errors.Wrapf(ErrNotFound, "%s", name))
}

func isDirErr(fs afero.Fs, p string) bool {
	fi, err := fs.Stat(p)
	return err == nil && fi.IsDir()
}

func parseLoose(name string, data []byte) (Reference, error) {
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, symrefPrefix) {
		target := strings.TrimSpace(strings.TrimPrefix(line, symrefPrefix))
		if !ValidName(target) {
			return Reference{}, errors.Errorf(errors.ErrReference, "%s: invalid symbolic target %q", name, target)
		}
		return Reference{Name: name, Symbolic: target}, nil
	}
	id, err := objects.ParseID(line)
	if err != nil {
		return Reference{}, errors.Wrapf(err, "parsing %s", name)
	}
	return Reference{Name: name, Target: id}, nil
}

// Resolve follows symbolic references until one names an object. The
// returned reference carries the final name and its target.
func (s *Store) Resolve(name string) (Reference, error) {
	current := name
	for depth := 0; depth <= maxSymrefDepth; depth++ {
		ref, err := s.Read(current)
		if err != nil {
			return Reference{}, err
		}
		if !ref.IsSymbolic() {
			return ref, nil
		}
		current = ref.Symbolic
	}
	return Reference{}, errors.Errorf(errors.ErrReference, "%s: symbolic references nested deeper than %d", name, maxSymrefDepth)
}

// packed parses packed-refs. A missing file is an empty set.
func (s *Store) packed() (map[string]objects.ID, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, packedRefsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]objects.ID{}, nil
		}
		return nil, errors.E(errors.ErrReference, errors.Wrap(err, "reading packed-refs"))
	}
	refs := make(map[string]objects.ID)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hex, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, errors.Errorf(errors.ErrReference, "malformed packed-refs line %q", line)
		}
		id, err := objects.ParseID(hex)
		if err != nil {
			return nil, errors.Wrapf(err, "packed-refs entry %s", name)
		}
		refs[name] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.ErrReference, err)
	}
	return refs, nil
}

// List returns the references whose names start with prefix, sorted by
// name. Loose references shadow packed ones of the same name.
func (s *Store) List(prefix string) ([]Reference, error) {
	found := make(map[string]Reference)

	packed, err := s.packed()
	if err != nil {
		return nil, err
	}
	for name, id := range packed {
		if strings.HasPrefix(name, prefix) {
			found[name] = Reference{Name: name, Target: id}
		}
	}

	root := filepath.Join(s.dir, "refs")
	err = afero.Walk(s.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, lockSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		data, err := afero.ReadFile(s.fs, p)
		if err != nil {
			return err
		}
		ref, err := parseLoose(name, data)
		if err != nil {
			return err
		}
		found[name] = ref
		return nil
	})
	if err != nil {
		if errors.KindOf(err) == nil {
			err = errors.E(errors.ErrReference, errors.Wrap(err, "listing references"))
		}
		return nil, err
	}

	refs := make([]Reference, 0, len(found))
	for _, r := range found {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// LocalBranches lists refs/heads/*.
func (s *Store) LocalBranches() ([]Reference, error) {
	return s.List(HeadsPrefix)
}
