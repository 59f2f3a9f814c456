package gitconfig

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/r/.git", 0o755))

	c := New(false)
	c.AddRemote("origin", "https://example.com/repo.git")
	require.NoError(t, Write(fs, "/r/.git", c))

	data, err := afero.ReadFile(fs, "/r/.git/config")
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "[core]")
	assert.Contains(t, text, `[remote "origin"]`)
	assert.Contains(t, text, "+refs/heads/*:refs/remotes/origin/*")

	got, err := Read(fs, "/r/.git")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestBareRemote(t *testing.T) {
	c := New(true)
	c.AddRemote("origin", "https://example.com/repo.git")
	assert.Equal(t, "+refs/heads/*:refs/heads/*", c.Remotes["origin"].Fetch)
	assert.False(t, c.Core.LogAllRefUpdates)
}

func TestParseGitWrittenConfig(t *testing.T) {
	raw := "[core]\n" +
		"\trepositoryformatversion = 0\n" +
		"\tfilemode = true\n" +
		"\tbare = true\n" +
		"\tignoreCase = false\n" +
		"[remote \"upstream\"]\n" +
		"\turl = https://example.com/up.git\n" +
		"\tfetch = +refs/heads/*:refs/remotes/upstream/*\n" +
		"[branch \"main\"]\n" +
		"\tremote = upstream\n"
	c, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, c.Core.Bare)
	assert.Equal(t, Remote{
		Name:  "upstream",
		URL:   "https://example.com/up.git",
		Fetch: "+refs/heads/*:refs/remotes/upstream/*",
	}, c.Remotes["upstream"])
	assert.Len(t, c.Remotes, 1)
}

func TestParseBooleanKey(t *testing.T) {
	c, err := Parse([]byte("[core]\n\tbare\n"))
	require.NoError(t, err)
	assert.True(t, c.Core.Bare)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(afero.NewMemMapFs(), "/nowhere")
	assert.Error(t, err)
}
