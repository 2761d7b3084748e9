package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/fs"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func openShell(test *testing.T) (*shell, *bytes.Buffer) {
	drv := device.NewRamdisk(512, 4096)
	_, err := mkfs.Format("ram0", drv, mkfs.Options{VolumeName: "explore"})
	require.NoError(test, err)

	r := fs.NewRegistry(fs.Options{})
	require.NoError(test, r.Register(drv, nil, "ram0"))
	require.NoError(test, r.Mount("ram0", mountPoint))
	test.Cleanup(func() { r.Umount(mountPoint) })

	var out bytes.Buffer
	return &shell{reg: r, out: &out}, &out
}

func runScript(sh *shell, script string) {
	sh.loop(strings.NewReader(script))
}

func TestShellSession(test *testing.T) {
	sh, out := openShell(test)
	host := filepath.Join(test.TempDir(), "hello.txt")
	require.NoError(test, os.WriteFile(host, []byte("hello, world"), 0644))

	runScript(sh, "mkdir docs/old\ncd docs\nput "+host+"\npwd\ncat hello.txt\nls\nquit\nls\n")
	text := out.String()
	for _, want := range []string{
		"Wrote 12 bytes",
		"Current directory is /docs",
		"hello, world",
		"old\n",
		"hello.txt\n",
	} {
		if !strings.Contains(text, want) {
			testutils.ErrorHere(test, "Output is missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "hello.txt\n") != 1 {
		testutils.ErrorHere(test, "Commands after quit were run:\n%s", text)
	}
}

func TestShellRemove(test *testing.T) {
	sh, out := openShell(test)
	runScript(sh, "mkdir a/b\ncd a/b\nrmdir /a\npwd\nrm nothing\nbogus\ncd\n")
	text := out.String()
	for _, want := range []string{
		"Current directory is /\n",
		"rm: nothing: no such file",
		"bogus is not a valid command",
		"Usage: cd dir",
	} {
		if !strings.Contains(text, want) {
			testutils.ErrorHere(test, "Output is missing %q:\n%s", want, text)
		}
	}
	if _, err := sh.reg.OpenDir("/a/"); err == nil {
		testutils.ErrorHere(test, "Directory /a survived rmdir")
	}
}

func TestShellStats(test *testing.T) {
	sh, out := openShell(test)
	sh.banner("ram0")
	runScript(sh, "stats\n")
	text := out.String()
	for _, want := range []string{"Attached to ram0", "Block size: 1024", `Volume:        "explore"`} {
		if !strings.Contains(text, want) {
			testutils.ErrorHere(test, "Output is missing %q:\n%s", want, text)
		}
	}
}
