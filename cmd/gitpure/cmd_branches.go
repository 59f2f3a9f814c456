package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/master-wayne7/gitpure/internal/refs"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type branchInfo struct {
	Name    string `json:"name" yaml:"name"`
	Current bool   `json:"current" yaml:"current"`
}

func newBranchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "branches",
		Aliases: []string{"branch"},
		Short:   "List local branches",
		Args:    cobra.NoArgs,
		RunE:    a.runBranches,
	}
	cmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")
	return cmd
}

func (a *app) runBranches(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case outputText, outputJSON, outputYAML:
	default:
		return errors.Errorf("unknown output format %q", format)
	}

	repo, err := a.openRepo()
	if err != nil {
		return err
	}
	names, err := repo.Branches()
	if err != nil {
		return err
	}
	current := ""
	if head, err := repo.Head(); err == nil && head.IsSymbolic() {
		current = refs.DisplayName(refs.Shorten(head.Symbolic))
	}

	infos := make([]branchInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, branchInfo{Name: name, Current: name == current})
	}

	out := cmd.OutOrStdout()
	switch format {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, b := range infos {
		marker := " "
		if b.Current {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, b.Name)
	}
	return nil
}
