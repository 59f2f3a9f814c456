package objects

import (
	"bytes"
	"strings"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// Commit is the parsed form of a commit object. Headers other than tree,
// parent, author and committer are ignored.
type Commit struct {
	Tree      ID
	Parents   []ID
	Author    string
	Committer string
	Message   string
}

// ParseCommit decodes a commit payload.
func ParseCommit(payload []byte) (*Commit, error) {
	c := &Commit{}
	hdr, msg, found := bytes.Cut(payload, []byte("\n\n"))
	if found {
		c.Message = string(msg)
	}
	haveTree := false
	for _, line := range strings.Split(string(hdr), "\n") {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "tree":
			id, err := ParseID(value)
			if err != nil {
				return nil, errors.E(errors.ErrCorruptObject, err)
			}
			c.Tree, haveTree = id, true
		case "parent":
			id, err := ParseID(value)
			if err != nil {
				return nil, errors.E(errors.ErrCorruptObject, err)
			}
			c.Parents = append(c.Parents, id)
		case "author":
			c.Author = value
		case "committer":
			c.Committer = value
		}
	}
	if !haveTree {
		return nil, errors.Errorf(errors.ErrCorruptObject, "commit has no tree")
	}
	return c, nil
}

// Encode serializes the commit.
func (c *Commit) Encode() []byte {
	var payload bytes.Buffer
	payload.WriteString("tree " + c.Tree.String() + "\n")
	for _, p := range c.Parents {
		payload.WriteString("parent " + p.String() + "\n")
	}
	payload.WriteString("author " + c.Author + "\n")
	payload.WriteString("committer " + c.Committer + "\n")
	payload.WriteByte('\n')
	payload.WriteString(c.Message)
	return payload.Bytes()
}

// ParseTagTarget returns the object an annotated tag points at.
func ParseTagTarget(payload []byte) (ID, Type, error) {
	var (
		target ID
		typ    Type
		err    error
	)
	hdr, _, _ := bytes.Cut(payload, []byte("\n\n"))
	for _, line := range strings.Split(string(hdr), "\n") {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "object":
			if target, err = ParseID(value); err != nil {
				return target, typ, errors.E(errors.ErrCorruptObject, err)
			}
		case "type":
			if typ, err = ParseType(value); err != nil {
				return target, typ, err
			}
		}
	}
	if target.IsZero() || !typ.Valid() {
		return target, typ, errors.Errorf(errors.ErrCorruptObject, "tag has no target")
	}
	return target, typ, nil
}
