package fs

import (
	"errors"
	"strings"
	"testing"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func TestNextSegment(test *testing.T) {
	cases := []struct {
		path   string
		seg    string
		isGoal bool
	}{
		{"a/b/c", "a", false},
		{"c", "c", true},
		{"", "", true},
		{"dir/", "dir", false},
	}
	for _, c := range cases {
		seg, isGoal, err := nextSegment(c.path)
		require.NoError(test, err)
		if seg != c.seg || isGoal != c.isGoal {
			testutils.ErrorHere(test, "nextSegment(%q) = %q, %v", c.path, seg, isGoal)
		}
	}
	if _, _, err := nextSegment(strings.Repeat("x", 256) + "/y"); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Long component: expected EINVAL, got %v", err)
	}
}

func TestCreateIntermediateDirectories(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	writeFile(test, r, "/mp/a/b/c/file", []byte("deep"))

	require.Equal(test, []string{".", "..", "a"}, entryNames(test, r, testMount))
	require.Equal(test, []string{".", "..", "c"}, entryNames(test, r, "/mp/a/b/"))
	require.Equal(test, []byte("deep"), readFile(test, r, "/mp/a/b/c/file"))
	require.Equal(test, []byte("deep"), readFile(test, r, "/mp/a/./b/../b/c/file"))
}

func TestPathThroughFile(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	writeFile(test, r, "/mp/f", []byte("x"))
	if _, err := r.Open("/mp/f/g", "r"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Path through a file: expected ENOENT, got %v", err)
	}
	if _, err := r.Open("/mp/f/g", "w"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Create below a file: expected ENOENT, got %v", err)
	}
}

func TestPathLimits(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	long := strings.Repeat("n", common.NAME_MAX)
	writeFile(test, r, "/mp/"+long, []byte("ok"))
	require.Equal(test, []byte("ok"), readFile(test, r, "/mp/"+long))

	if _, err := r.Open("/mp/"+long+"n", "w"); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Name of 256 bytes: expected EINVAL, got %v", err)
	}
	if _, err := r.Open("/nowhere/file", "r"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Path outside every mount: expected ENOENT, got %v", err)
	}
}

func TestDirIndexVolume(test *testing.T) {
	r := openTestFS(test, mkfs.Options{DirIndex: true})
	require.NoError(test, r.Mkdir("/mp/idx"))
	for i := 0; i < 60; i++ {
		writeFile(test, r, "/mp/idx/"+strings.Repeat("f", 20)+string(rune('A'+i)), []byte{byte(i)})
	}
	names := entryNames(test, r, "/mp/idx/")
	require.Len(test, names, 62)
	require.Equal(test, []byte{59}, readFile(test, r, "/mp/idx/"+strings.Repeat("f", 20)+string(rune('A'+59))))
}
