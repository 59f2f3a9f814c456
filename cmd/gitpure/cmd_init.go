package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/master-wayne7/gitpure"
)

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [<directory>]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			bare, _ := cmd.Flags().GetBool("bare")
			repo, err := gitpure.Init(dir, bare, a.options()...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty Git repository in %s/\n", repo.GitDir())
			return nil
		},
	}
	cmd.Flags().Bool("bare", false, "Create a bare repository")
	return cmd
}
