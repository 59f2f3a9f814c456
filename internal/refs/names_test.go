package refs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	tests := map[string]string{
		"refs/heads/main":         "main",
		"refs/heads/feature/x":    "feature/x",
		"refs/tags/v1.0":          "v1.0",
		"refs/remotes/origin/dev": "origin/dev",
		"refs/notes/commits":      "notes/commits",
		"HEAD":                    "HEAD",
		"main":                    "main",
	}
	for in, want := range tests {
		assert.Equal(t, want, Shorten(in), in)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "main", DisplayName("main"))
	assert.Equal(t, "fünf", DisplayName("fünf"))
	assert.Equal(t, "bad�name", DisplayName("bad\xffname"))
	assert.Equal(t, "�", DisplayName("\xc3"))
}

func TestBranchNames(t *testing.T) {
	refs := []Reference{
		{Name: "refs/heads/zeta"},
		{Name: "refs/heads/Alpha"},
		{Name: "refs/heads/main"},
		{Name: "refs/heads/feature/x"},
		{Name: "refs/heads/main"},
		{Name: "refs/heads/bad\xff"},
	}
	want := []string{"Alpha", "bad�", "feature/x", "main", "zeta"}
	if diff := cmp.Diff(want, BranchNames(refs)); diff != "" {
		t.Errorf("BranchNames mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, BranchNames(nil))
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"HEAD", "refs/heads/main", "refs/heads/feature/x", "refs/tags/v1.0", "refs/remotes/origin/HEAD"} {
		assert.True(t, ValidName(name), name)
	}
	for _, name := range []string{
		"", "main", "refs/heads/", "refs//x", "refs/heads/.hidden", "refs/heads/a..b",
		"refs/heads/x.lock", "refs/heads/a b", "refs/heads/a:b", "refs/heads/a\x00", "refs/heads/@{u}",
		"refs/heads/x.", "refs/heads/a\\b",
	} {
		assert.False(t, ValidName(name), name)
	}
}
