package clone

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/gitconfig"
	"github.com/master-wayne7/gitpure/internal/objects"
	"github.com/master-wayne7/gitpure/internal/protocol"
	"github.com/master-wayne7/gitpure/internal/refs"
	"github.com/master-wayne7/gitpure/internal/testutil"
)

type transition struct{ from, to State }

func setup(t *testing.T, bare bool) (Options, *[]transition) {
	t.Helper()
	fs := afero.NewMemMapFs()
	opts := Options{Fs: fs, Bare: bare, CheckoutWorkers: 2}
	if bare {
		opts.GitDir = "/dst.git"
	} else {
		opts.Worktree = "/dst"
		opts.GitDir = "/dst/.git"
	}
	require.NoError(t, InitGitDir(fs, opts.GitDir, bare))

	var seen []transition
	opts.OnTransition = func(from, to State) { seen = append(seen, transition{from, to}) }
	return opts, &seen
}

func states(seen []transition) []State {
	out := []State{Requested}
	for _, tr := range seen {
		out = append(out, tr.to)
	}
	return out
}

func readRef(t *testing.T, opts Options, name string) refs.Reference {
	t.Helper()
	r, err := refs.NewStore(opts.Fs, opts.GitDir, nil).Read(name)
	require.NoError(t, err, name)
	return r
}

func TestCloneWorktree(t *testing.T) {
	repo := testutil.Simple()
	srv := testutil.NewServer(t, repo, testutil.ServerOptions{})
	opts, seen := setup(t, false)
	opts.URL = srv.RepoURL()

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, Complete, res.State)
	assert.Equal(t, []State{Requested, Discovering, Negotiating, Transferring, Persisting, CheckingOut, Complete}, states(*seen))
	assert.Equal(t, len(repo.Objects), res.Objects)

	main := repo.Refs["refs/heads/main"]
	feature := repo.Refs["refs/heads/feature"]
	assert.Equal(t, refs.Reference{Name: "HEAD", Symbolic: "refs/heads/main"}, readRef(t, opts, "HEAD"))
	assert.Equal(t, main, readRef(t, opts, "refs/heads/main").Target)
	assert.Equal(t, main, readRef(t, opts, "refs/remotes/origin/main").Target)
	assert.Equal(t, feature, readRef(t, opts, "refs/remotes/origin/feature").Target)
	assert.Equal(t, "refs/remotes/origin/main", readRef(t, opts, "refs/remotes/origin/HEAD").Symbolic)
	assert.Equal(t, repo.Refs["refs/tags/v1"], readRef(t, opts, "refs/tags/v1").Target)

	branches, err := refs.NewStore(opts.Fs, opts.GitDir, nil).LocalBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, refs.BranchNames(branches))

	content, err := afero.ReadFile(opts.Fs, "/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
	content, err = afero.ReadFile(opts.Fs, "/dst/dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "yo", string(content))
	exists, _ := afero.Exists(opts.Fs, "/dst/run.sh")
	assert.False(t, exists, "only the default branch is checked out")

	require.NotNil(t, res.Checkout)
	assert.Equal(t, 2, res.Checkout.Files)
	exists, _ = afero.Exists(opts.Fs, "/dst/.git/index")
	assert.True(t, exists)

	cfg, err := gitconfig.Read(opts.Fs, opts.GitDir)
	require.NoError(t, err)
	assert.False(t, cfg.Core.Bare)
	assert.Equal(t, srv.RepoURL(), cfg.Remotes["origin"].URL)

	// every object received is stored under its own hash
	store := objects.NewStore(opts.Fs, opts.GitDir, nil)
	for _, obj := range repo.Objects {
		got, err := store.Get(obj.ID)
		require.NoError(t, err)
		assert.Equal(t, obj.ID, objects.Hash(got.Type, got.Data))
	}

	wants := srv.Wants()
	assert.ElementsMatch(t, []string{main.String(), feature.String(), repo.Refs["refs/tags/v1"].String()}, wants)
}

func TestCloneBare(t *testing.T) {
	repo := testutil.Simple()
	srv := testutil.NewServer(t, repo, testutil.ServerOptions{})
	opts, seen := setup(t, true)
	opts.URL = srv.RepoURL()

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, res.Checkout)
	assert.Equal(t, []State{Requested, Discovering, Negotiating, Transferring, Persisting, Skipped, Complete}, states(*seen))

	branches, err := refs.NewStore(opts.Fs, opts.GitDir, nil).LocalBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "main"}, refs.BranchNames(branches))

	infos, err := afero.ReadDir(opts.Fs, "/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "dst.git", infos[0].Name())
	exists, _ := afero.Exists(opts.Fs, "/dst.git/index")
	assert.False(t, exists)

	cfg, err := gitconfig.Read(opts.Fs, opts.GitDir)
	require.NoError(t, err)
	assert.True(t, cfg.Core.Bare)
}

func TestCloneEmptyRemote(t *testing.T) {
	t.Run("default branch", func(t *testing.T) {
		srv := testutil.NewServer(t, testutil.NewRepo(), testutil.ServerOptions{})
		opts, seen := setup(t, false)
		opts.URL = srv.RepoURL()

		res, err := Run(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, []State{Requested, Discovering, Persisting, CheckingOut, Complete}, states(*seen))
		assert.Equal(t, 0, srv.Uploads())
		assert.Equal(t, refs.Reference{Name: "HEAD", Symbolic: "refs/heads/main"}, res.Head)
		assert.Empty(t, res.Refs)
	})

	t.Run("advertised symref", func(t *testing.T) {
		repo := testutil.NewRepo()
		repo.HeadTarget = "refs/heads/trunk"
		srv := testutil.NewServer(t, repo, testutil.ServerOptions{})
		opts, _ := setup(t, true)
		opts.URL = srv.RepoURL()

		_, err := Run(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/trunk", readRef(t, opts, "HEAD").Symbolic)
	})
}

func TestCloneRejectsCorruptPack(t *testing.T) {
	repo := testutil.Simple()
	data := repo.Pack()
	data[len(data)-1] ^= 0xff
	srv := testutil.NewServer(t, repo, testutil.ServerOptions{Pack: data})
	opts, seen := setup(t, false)
	opts.URL = srv.RepoURL()

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))
	assert.Contains(t, err.Error(), "transferring")
	assert.Equal(t, Failed, (*seen)[len(*seen)-1].to)

	for _, obj := range repo.Objects {
		assert.False(t, objects.NewStore(opts.Fs, opts.GitDir, nil).Contains(obj.ID))
	}
	branches, err := refs.NewStore(opts.Fs, opts.GitDir, nil).List("refs/")
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestCloneRejectsIncompletePack(t *testing.T) {
	repo := testutil.Simple()
	// drop the first blob: the trees that name it become dangling
	var partial []*objects.Object
	dropped := false
	for _, obj := range repo.Objects {
		if obj.Type == objects.TypeBlob && !dropped {
			dropped = true
			continue
		}
		partial = append(partial, obj)
	}
	srv := testutil.NewServer(t, repo, testutil.ServerOptions{Pack: testutil.BuildPack(partial)})
	opts, _ := setup(t, true)
	opts.URL = srv.RepoURL()

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptObject))

	all, err := refs.NewStore(opts.Fs, opts.GitDir, nil).List("refs/")
	require.NoError(t, err)
	assert.Empty(t, all, "refs are only written once every object is present")
}

func TestCloneTransportFailure(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Simple(), testutil.ServerOptions{RefsStatus: http.StatusNotFound})
	opts, seen := setup(t, false)
	opts.URL = srv.RepoURL()

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.Contains(t, err.Error(), "discovering")
	assert.Equal(t, []State{Requested, Discovering, Failed}, states(*seen))
}

func TestCloneCancelledMidTransfer(t *testing.T) {
	repo := testutil.Simple()
	srv := testutil.NewServer(t, repo, testutil.ServerOptions{Stall: true})
	opts, seen := setup(t, false)
	opts.URL = srv.RepoURL()
	opts.Client = &protocol.Client{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-srv.Started:
			cancel()
		case <-time.After(10 * time.Second):
		}
	}()

	res, err := Run(ctx, opts)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
	assert.Equal(t, Failed, (*seen)[len(*seen)-1].to)
}

func TestPlanRefsDetachedHead(t *testing.T) {
	id := objects.Hash(objects.TypeCommit, []byte("detached"))
	adv := &protocol.Advertisement{Head: id}

	p, err := planRefs(adv, false, mapStore{})
	require.NoError(t, err)
	assert.Empty(t, p.refs)
	assert.Equal(t, refs.Reference{Name: "HEAD", Target: id}, p.head)
	assert.Equal(t, id, p.checkout)
	assert.Equal(t, []objects.ID{id}, p.roots())
	assert.Equal(t, []objects.ID{id}, wantedIDs(adv))
}

func TestPlanRefsSkipsAbsentTags(t *testing.T) {
	present := objects.Hash(objects.TypeTag, []byte("here"))
	absent := objects.Hash(objects.TypeTag, []byte("gone"))
	branch := objects.Hash(objects.TypeCommit, []byte("tip"))
	adv := &protocol.Advertisement{Refs: []protocol.Ref{
		{Name: "refs/heads/dev", ID: branch},
		{Name: "refs/tags/a", ID: present},
		{Name: "refs/tags/b", ID: absent},
		{Name: "refs/pull/1/head", ID: branch},
	}}

	p, err := planRefs(adv, true, mapStore{present: true})
	require.NoError(t, err)
	want := []refs.Reference{
		{Name: "refs/heads/dev", Target: branch},
		{Name: "refs/tags/a", Target: present},
	}
	if diff := cmp.Diff(want, p.refs); diff != "" {
		t.Errorf("planned refs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "refs/heads/dev", p.head.Symbolic)
	assert.Empty(t, p.symbolic)
}

func TestPlanRefsRejectsInvalidBranch(t *testing.T) {
	adv := &protocol.Advertisement{Refs: []protocol.Ref{
		{Name: "refs/heads/bad..name", ID: objects.Hash(objects.TypeCommit, []byte("x"))},
	}}
	_, err := planRefs(adv, false, mapStore{})
	assert.True(t, errors.Is(err, errors.ErrReference))
}

type mapStore map[objects.ID]bool

func (m mapStore) Get(id objects.ID) (*objects.Object, error) {
	return nil, errors.E(errors.ErrReference, objects.ErrNotFound)
}

func (m mapStore) Contains(id objects.ID) bool { return m[id] }

func TestInitGitDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, InitGitDir(fs, "/r/.git", false))
	for _, dir := range []string{"objects", "refs/heads", "refs/tags"} {
		ok, err := afero.DirExists(fs, filepath.Join("/r/.git", dir))
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
	head, err := afero.ReadFile(fs, "/r/.git/HEAD")
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/main\n", string(head))
}
