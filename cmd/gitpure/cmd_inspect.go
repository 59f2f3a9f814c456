package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/master-wayne7/gitpure"
	"github.com/master-wayne7/gitpure/internal/objects"
)

func newCatFileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat-file (-p | -t | -s) <object>",
		Short: "Show the content, type or size of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pretty, _ := cmd.Flags().GetBool("pretty")
			showType, _ := cmd.Flags().GetBool("type")
			showSize, _ := cmd.Flags().GetBool("size")

			obj, err := a.readObject(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case showType:
				fmt.Fprintln(out, obj.Type)
			case showSize:
				fmt.Fprintln(out, len(obj.Data))
			case pretty:
				return prettyPrint(out, obj)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("pretty", "p", false, "Pretty-print the object content")
	cmd.Flags().BoolP("type", "t", false, "Show the object type")
	cmd.Flags().BoolP("size", "s", false, "Show the object size")
	cmd.MarkFlagsMutuallyExclusive("pretty", "type", "size")
	cmd.MarkFlagsOneRequired("pretty", "type", "size")
	return cmd
}

func (a *app) readObject(rev string) (*gitpure.Object, error) {
	repo, err := a.openRepo()
	if err != nil {
		return nil, err
	}
	id, err := repo.Resolve(rev)
	if err != nil {
		return nil, err
	}
	return repo.ReadObject(id)
}

func prettyPrint(w io.Writer, obj *gitpure.Object) error {
	if obj.Type != objects.TypeTree {
		_, err := w.Write(obj.Data)
		return err
	}
	tree, err := objects.ParseTree(obj.Data)
	if err != nil {
		return err
	}
	return printTree(w, tree, false)
}

func printTree(w io.Writer, tree *objects.Tree, nameOnly bool) error {
	for _, e := range tree.Entries {
		var err error
		if nameOnly {
			_, err = fmt.Fprintln(w, e.Name)
		} else {
			_, err = fmt.Fprintf(w, "%06o %s %s\t%s\n", uint32(e.Mode), entryType(e.Mode), e.ID, e.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func entryType(m objects.Mode) objects.Type {
	switch m {
	case objects.ModeTree:
		return objects.TypeTree
	case objects.ModeGitlink:
		return objects.TypeCommit
	default:
		return objects.TypeBlob
	}
}

func newLsTreeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls-tree [--name-only] <tree-ish>",
		Short: "List the contents of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nameOnly, _ := cmd.Flags().GetBool("name-only")
			obj, err := a.readObject(args[0])
			if err != nil {
				return err
			}
			if obj.Type == objects.TypeCommit {
				commit, err := objects.ParseCommit(obj.Data)
				if err != nil {
					return err
				}
				repo, err := a.openRepo()
				if err != nil {
					return err
				}
				if obj, err = repo.ReadObject(commit.Tree); err != nil {
					return err
				}
			}
			if obj.Type != objects.TypeTree {
				return errors.Errorf("%s is a %s, not a tree", args[0], obj.Type)
			}
			tree, err := objects.ParseTree(obj.Data)
			if err != nil {
				return err
			}
			return printTree(cmd.OutOrStdout(), tree, nameOnly)
		},
	}
	cmd.Flags().Bool("name-only", false, "List only file names")
	return cmd
}

func newHashObjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-object [-w] <file>",
		Short: "Compute the blob id of a file, optionally storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, _ := cmd.Flags().GetBool("write")
			data, err := afero.ReadFile(afero.NewOsFs(), args[0])
			if err != nil {
				return errors.Wrapf(err, "reading %s", args[0])
			}

			id := objects.Hash(objects.TypeBlob, data)
			if write {
				repo, err := a.openRepo()
				if err != nil {
					return err
				}
				ctx, cancel := a.context(cmd)
				defer cancel()
				if id, err = repo.WriteBlob(ctx, data); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolP("write", "w", false, "Write the object into the object store")
	return cmd
}
