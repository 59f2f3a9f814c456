package objects

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/go-units"
	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zlib"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/logging"
)

const (
	defaultCacheSize = 1024
	quarantinePrefix = "incoming-"
	maxLooseHeader   = 64
)

// ErrNotFound is returned (tagged ErrReference) for objects absent from the store.
var ErrNotFound = errors.New("object not found")

// Reader resolves objects by identifier.
type Reader interface {
	Get(id ID) (*Object, error)
	Contains(id ID) bool
}

// Store is a content-addressed store of loose objects under <gitdir>/objects.
type Store struct {
	fs     afero.Fs
	dir    string
	cache  *lru.Cache
	logger *zap.Logger
}

// NewStore opens the object store of the repository at gitDir.
func NewStore(fs afero.Fs, gitDir string, logger *zap.Logger) *Store {
	cache, _ := lru.New(defaultCacheSize)
	return &Store{
		fs:     fs,
		dir:    filepath.Join(gitDir, "objects"),
		cache:  cache,
		logger: logging.OrNop(logger),
	}
}

// Dir is the objects directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id ID) string {
	hex := id.String()
	return filepath.Join(s.dir, hex[:2], hex[2:])
}

// Contains reports whether the object is present.
func (s *Store) Contains(id ID) bool {
	if s.cache.Contains(id) {
		return true
	}
	fi, err := s.fs.Stat(s.path(id))
	return err == nil && !fi.IsDir()
}

// Get reads an object and checks that its content hashes to id.
func (s *Store) Get(id ID) (*Object, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(*Object), nil
	}
	raw, err := afero.ReadFile(s.fs, s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(errors.ErrReference, errors.Wrapf(ErrNotFound, "%s", id))
		}
		return nil, errors.Wrapf(err, "reading object %s", id)
	}
	obj, err := decodeLoose(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding object %s", id)
	}
	obj.ID = id
	if err := obj.Verify(); err != nil {
		return nil, err
	}
	s.cache.Add(id, obj)
	return obj, nil
}

// ReadCommit reads and parses a commit.
func ReadCommit(r Reader, id ID) (*Commit, error) {
	data, err := read(r, id, TypeCommit)
	if err != nil {
		return nil, err
	}
	return ParseCommit(data)
}

// ReadTree reads and parses a tree.
func ReadTree(r Reader, id ID) (*Tree, error) {
	data, err := read(r, id, TypeTree)
	if err != nil {
		return nil, err
	}
	return ParseTree(data)
}

// ReadBlob reads a blob payload.
func ReadBlob(r Reader, id ID) ([]byte, error) {
	return read(r, id, TypeBlob)
}

func read(r Reader, id ID, want Type) ([]byte, error) {
	obj, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if obj.Type != want {
		return nil, errors.Errorf(errors.ErrCorruptObject, "object %s is a %s, expected %s", id, obj.Type, want)
	}
	return obj.Data, nil
}

// Put persists a batch of objects. Every object is verified before any is
// written; a batch with a single bad object writes nothing. Objects are
// staged in a quarantine directory and moved into place once all of them
// have been written.
func (s *Store) Put(ctx context.Context, objs []*Object) error {
	for _, obj := range objs {
		if err := obj.Verify(); err != nil {
			return err
		}
	}

	quarantine := filepath.Join(s.dir, quarantinePrefix+ksuid.New().String())
	defer func() {
		_ = s.fs.RemoveAll(quarantine)
	}()

	var (
		staged  = make([]ID, 0, len(objs))
		written int64
	)
	seen := make(map[ID]struct{}, len(objs))
	for _, obj := range objs {
		if err := errors.FromContext(ctx); err != nil {
			return err
		}
		if _, dup := seen[obj.ID]; dup || s.Contains(obj.ID) {
			continue
		}
		seen[obj.ID] = struct{}{}
		n, err := s.stage(quarantine, obj)
		if err != nil {
			return errors.Wrapf(err, "staging object %s", obj.ID)
		}
		written += n
		staged = append(staged, obj.ID)
	}

	for i, id := range staged {
		if err := s.publish(quarantine, id); err != nil {
			s.unpublish(staged[:i])
			return errors.Wrapf(err, "publishing object %s", id)
		}
	}
	for _, obj := range objs {
		s.cache.Add(obj.ID, obj)
	}

	s.logger.Debug("stored objects",
		zap.Int("received", len(objs)),
		zap.Int("written", len(staged)),
		zap.String("compressed", units.HumanSize(float64(written))),
	)
	return nil
}

func (s *Store) publish(quarantine string, id ID) error {
	hex := id.String()
	if err := s.fs.MkdirAll(filepath.Join(s.dir, hex[:2]), 0o755); err != nil {
		return err
	}
	return s.fs.Rename(filepath.Join(quarantine, hex[:2], hex[2:]), s.path(id))
}

// unpublish removes objects a failed batch already moved into place.
func (s *Store) unpublish(ids []ID) {
	for _, id := range ids {
		if err := s.fs.Remove(s.path(id)); err != nil {
			s.logger.Warn("removing partially published object", zap.Stringer("id", id), zap.Error(err))
		}
	}
}

func (s *Store) stage(quarantine string, obj *Object) (int64, error) {
	hex := obj.ID.String()
	dir := filepath.Join(quarantine, hex[:2])
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(header(obj.Type, len(obj.Data))); err != nil {
		return 0, err
	}
	if _, err := w.Write(obj.Data); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, hex[2:]), buf.Bytes(), 0o444); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// decodeLoose inflates a loose object and splits its header from the payload.
// Inflation stops one byte past the size the header declares.
func decodeLoose(raw []byte) (*Object, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.E(errors.ErrCorruptObject, err)
	}
	defer r.Close()

	br := bufio.NewReaderSize(r, maxLooseHeader)
	hdr, err := br.ReadSlice(0)
	if err != nil {
		return nil, errors.Errorf(errors.ErrCorruptObject, "loose object has no header")
	}
	hdr = hdr[:len(hdr)-1]
	typeName, sizeStr, ok := bytes.Cut(hdr, []byte(" "))
	if !ok {
		return nil, errors.Errorf(errors.ErrCorruptObject, "malformed loose object header %q", hdr)
	}
	t, err := ParseType(string(typeName))
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(string(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return nil, errors.Errorf(errors.ErrCorruptObject, "malformed loose object size %q", sizeStr)
	}

	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(br, size+1)); err != nil {
		return nil, errors.E(errors.ErrCorruptObject, err)
	}
	if int64(out.Len()) != size {
		return nil, errors.Errorf(errors.ErrCorruptObject, "loose object size %q does not match payload", sizeStr)
	}
	return &Object{Type: t, Data: out.Bytes()}, nil
}
