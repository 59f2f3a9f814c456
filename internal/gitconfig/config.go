// Package gitconfig reads and writes the repository-level config file
// (<gitdir>/config) in git's ini dialect.
package gitconfig

import (
	"bytes"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"

	"github.com/master-wayne7/gitpure/internal/errors"
)

// FileName is the config file inside the git directory.
const FileName = "config"

// Core holds the [core] section.
type Core struct {
	RepositoryFormatVersion int
	FileMode                bool
	Bare                    bool
	LogAllRefUpdates        bool
}

// Remote is one [remote "name"] section.
type Remote struct {
	Name  string
	URL   string
	Fetch string
}

// Config is the subset of a repository config this module understands.
type Config struct {
	Core    Core
	Remotes map[string]Remote
}

// New returns the config git init writes.
func New(bare bool) *Config {
	return &Config{
		Core: Core{
			FileMode:         true,
			Bare:             bare,
			LogAllRefUpdates: !bare,
		},
		Remotes: map[string]Remote{},
	}
}

// AddRemote records a remote with the default fetch refspec: branches map
// to refs/remotes/<name>/ in a worktree repository and to refs/heads/ in
// a bare one.
func (c *Config) AddRemote(name, url string) {
	fetch := "+refs/heads/*:refs/remotes/" + name + "/*"
	if c.Core.Bare {
		fetch = "+refs/heads/*:refs/heads/*"
	}
	if c.Remotes == nil {
		c.Remotes = map[string]Remote{}
	}
	c.Remotes[name] = Remote{Name: name, URL: url, Fetch: fetch}
}

func remoteSection(name string) string {
	return `remote "` + name + `"`
}

// Encode renders the config file.
func (c *Config) Encode() ([]byte, error) {
	f := ini.Empty()
	core, err := f.NewSection("core")
	if err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{
		{"repositoryformatversion", strconv.Itoa(c.Core.RepositoryFormatVersion)},
		{"filemode", btoa(c.Core.FileMode)},
		{"bare", btoa(c.Core.Bare)},
	} {
		if _, err := core.NewKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	if c.Core.LogAllRefUpdates {
		if _, err := core.NewKey("logallrefupdates", "true"); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := c.Remotes[name]
		sec, err := f.NewSection(remoteSection(name))
		if err != nil {
			return nil, err
		}
		if _, err := sec.NewKey("url", r.URL); err != nil {
			return nil, err
		}
		if r.Fetch != "" {
			if _, err := sec.NewKey("fetch", r.Fetch); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse reads a config file. Unknown sections and keys are ignored.
func Parse(data []byte) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:  true,
		AllowBooleanKeys: true,
		AllowShadows:     true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing git config")
	}

	c := &Config{Remotes: map[string]Remote{}}
	if core, err := f.GetSection("core"); err == nil {
		c.Core.RepositoryFormatVersion = core.Key("repositoryformatversion").MustInt(0)
		c.Core.FileMode = core.Key("filemode").MustBool(true)
		c.Core.Bare = core.Key("bare").MustBool(false)
		c.Core.LogAllRefUpdates = core.Key("logallrefupdates").MustBool(false)
	}
	for _, sec := range f.Sections() {
		rest, ok := strings.CutPrefix(sec.Name(), "remote ")
		if !ok {
			continue
		}
		name := strings.Trim(strings.TrimSpace(rest), `"`)
		c.Remotes[name] = Remote{
			Name:  name,
			URL:   sec.Key("url").String(),
			Fetch: sec.Key("fetch").String(),
		}
	}
	return c, nil
}

// Read loads <gitDir>/config.
func Read(fs afero.Fs, gitDir string) (*Config, error) {
	data, err := afero.ReadFile(fs, filepath.Join(gitDir, FileName))
	if err != nil {
		return nil, errors.Wrap(err, "reading git config")
	}
	return Parse(data)
}

// Write replaces <gitDir>/config.
func Write(fs afero.Fs, gitDir string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return errors.Wrap(err, "encoding git config")
	}
	if err := afero.WriteFile(fs, filepath.Join(gitDir, FileName), data, 0o644); err != nil {
		return errors.Wrap(err, "writing git config")
	}
	return nil
}

func btoa(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
