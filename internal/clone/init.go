package clone

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/gitconfig"
	"github.com/master-wayne7/gitpure/internal/refs"
)

// InitGitDir creates the skeleton of an empty repository in gitDir: the
// object and ref directories, HEAD pointing at an unborn main branch and
// the config file.
func InitGitDir(fs afero.Fs, gitDir string, bare bool) error {
	for _, dir := range []string{
		"objects/info",
		"objects/pack",
		"refs/heads",
		"refs/tags",
	} {
		if err := fs.MkdirAll(filepath.Join(gitDir, filepath.FromSlash(dir)), 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	if err := refs.NewStore(fs, gitDir, nil).SetSymbolic(refs.Head, fallbackBranch); err != nil {
		return err
	}
	return gitconfig.Write(fs, gitDir, gitconfig.New(bare))
}
