package testutil

import (
	"path"
	"sort"
	"strings"

	"github.com/master-wayne7/gitpure/internal/objects"
)

// File is one blob in a fixture tree, keyed by slash-separated path.
type File struct {
	Content string
	Mode    objects.Mode
}

// Repo is an in-memory set of objects plus the refs advertised for it.
type Repo struct {
	Objects []*objects.Object
	Refs    map[string]objects.ID
	// HeadTarget is the branch HEAD points at; empty for a detached or
	// missing HEAD.
	HeadTarget string

	byID map[objects.ID]*objects.Object
}

// NewRepo returns an empty fixture.
func NewRepo() *Repo {
	return &Repo{Refs: map[string]objects.ID{}, byID: map[objects.ID]*objects.Object{}}
}

func (r *Repo) add(obj *objects.Object) objects.ID {
	if _, ok := r.byID[obj.ID]; !ok {
		r.byID[obj.ID] = obj
		r.Objects = append(r.Objects, obj)
	}
	return obj.ID
}

// Tree stores the blobs and trees for files and returns the root tree id.
func (r *Repo) Tree(files map[string]File) objects.ID {
	return r.tree("", files)
}

func (r *Repo) tree(prefix string, files map[string]File) objects.ID {
	tree := &objects.Tree{}
	subdirs := map[string]bool{}
	names := make([]string, 0, len(files))
	for p := range files {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if dir, _, nested := strings.Cut(rest, "/"); nested {
			if !subdirs[dir] {
				subdirs[dir] = true
				id := r.tree(path.Join(prefix, dir)+"/", files)
				tree.Entries = append(tree.Entries, objects.TreeEntry{Name: dir, Mode: objects.ModeTree, ID: id})
			}
			continue
		}
		f := files[p]
		mode := f.Mode
		if mode == 0 {
			mode = objects.ModeRegular
		}
		id := r.add(objects.NewObject(objects.TypeBlob, []byte(f.Content)))
		tree.Entries = append(tree.Entries, objects.TreeEntry{Name: rest, Mode: mode, ID: id})
	}
	return r.add(objects.NewObject(objects.TypeTree, tree.Encode()))
}

// Commit stores a commit of tree with the given parents.
func (r *Repo) Commit(tree objects.ID, message string, parents ...objects.ID) objects.ID {
	c := &objects.Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    "A U Thor <author@example.com> 1700000000 +0000",
		Committer: "C O Mitter <committer@example.com> 1700000000 +0000",
		Message:   message + "\n",
	}
	return r.add(objects.NewObject(objects.TypeCommit, c.Encode()))
}

// Tag stores an annotated tag pointing at a commit.
func (r *Repo) Tag(name string, target objects.ID) objects.ID {
	payload := "object " + target.String() + "\ntype commit\ntag " + name +
		"\ntagger T <t@example.com> 1700000000 +0000\n\n" + name + "\n"
	return r.add(objects.NewObject(objects.TypeTag, []byte(payload)))
}

// Branch points refs/heads/name at id. The first branch becomes HEAD.
func (r *Repo) Branch(name string, id objects.ID) {
	ref := "refs/heads/" + name
	r.Refs[ref] = id
	if r.HeadTarget == "" {
		r.HeadTarget = ref
	}
}

// Pack returns a pack of every object in the fixture.
func (r *Repo) Pack() []byte {
	return BuildPack(r.Objects)
}

// Simple builds the fixture used across tests: a main branch with
// a.txt = "hi" and dir/b.txt = "yo", a feature branch one commit ahead, and
// an annotated tag on main.
func Simple() *Repo {
	r := NewRepo()
	root := r.Commit(r.Tree(map[string]File{
		"a.txt":     {Content: "hi"},
		"dir/b.txt": {Content: "yo"},
	}), "initial")
	feature := r.Commit(r.Tree(map[string]File{
		"a.txt":     {Content: "hi"},
		"dir/b.txt": {Content: "yo"},
		"run.sh":    {Content: "#!/bin/sh\n", Mode: objects.ModeExecutable},
		"link":      {Content: "a.txt", Mode: objects.ModeSymlink},
	}), "feature", root)
	r.Branch("main", root)
	r.Branch("feature", feature)
	r.Refs["refs/tags/v1"] = r.Tag("v1", root)
	return r
}
