package main

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/master-wayne7/gitpure"
)

func newCloneCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <url> [<directory>]",
		Short: "Clone a repository into a new directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bare, _ := cmd.Flags().GetBool("bare")
			dir := ""
			if len(args) == 2 {
				dir = args[1]
			} else {
				var err error
				if dir, err = defaultCloneDir(args[0], bare); err != nil {
					return err
				}
			}
			return a.runClone(cmd, args[0], dir, bare)
		},
	}
	cmd.Flags().Bool("bare", false, "Create a bare repository")
	return cmd
}

// defaultCloneDir derives the directory name git would pick: the last path
// element of the URL without .git, with .git appended for a bare clone.
func defaultCloneDir(rawURL string, bare bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %q", rawURL)
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == "/" {
		return "", errors.Errorf("cannot guess a directory name from %q, please specify one", rawURL)
	}
	if bare {
		name += ".git"
	}
	return name, nil
}

func (a *app) runClone(cmd *cobra.Command, rawURL, dir string, bare bool) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	if bare {
		fmt.Fprintf(cmd.ErrOrStderr(), "Cloning into bare repository '%s'...\n", dir)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Cloning into '%s'...\n", dir)
	}
	repo, err := gitpure.CloneFrom(ctx, rawURL, dir, bare, a.options()...)
	if err != nil {
		return err
	}
	branches, err := repo.Branches()
	if err != nil {
		return err
	}
	if len(branches) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: You appear to have cloned an empty repository.")
	}
	return nil
}
