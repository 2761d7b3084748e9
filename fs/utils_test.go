package fs

import (
	"bytes"
	"io"
	"testing"

	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/super"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

const testMount = "/mp/"

// formatRamdisk returns a freshly formatted 2 MiB ramdisk.
func formatRamdisk(test *testing.T, opts mkfs.Options) *device.Ramdisk {
	test.Helper()
	drv := device.NewRamdisk(512, 4096)
	if _, err := mkfs.Format("ram0", drv, opts); err != nil {
		testutils.FatalHere(test, "Failed formatting ramdisk: %s", err)
	}
	return drv
}

// openTestFS formats a ramdisk and mounts it at /mp/. The filesystem is
// unmounted when the test ends.
func openTestFS(test *testing.T, opts mkfs.Options) *Registry {
	test.Helper()
	r := NewRegistry(Options{})
	drv := formatRamdisk(test, opts)
	require.NoError(test, r.Register(drv, nil, "ram0"))
	if err := r.Mount("ram0", testMount); err != nil {
		testutils.FatalHere(test, "Failed mounting ramdisk: %s", err)
	}
	test.Cleanup(func() {
		r.Umount(testMount)
	})
	return r
}

// patchSuper rewrites the superblock of an unmounted driver.
func patchSuper(test *testing.T, drv *device.Ramdisk, fn func(sb *super.Superblock)) {
	test.Helper()
	dev := blockdev.New("patch", drv, nil)
	require.NoError(test, dev.Init())
	defer dev.Fini()
	sb, err := super.Read(dev)
	require.NoError(test, err)
	fn(sb)
	require.NoError(test, sb.Write(dev))
}

func writeFile(test *testing.T, r *Registry, path string, data []byte) {
	test.Helper()
	f, err := r.Open(path, "w")
	if err != nil {
		testutils.FatalHere(test, "Failed opening %s for writing: %s", path, err)
	}
	n, err := f.Write(data)
	if err != nil || n != len(data) {
		testutils.FatalHere(test, "Short write to %s: %d of %d bytes: %v", path, n, len(data), err)
	}
	require.NoError(test, f.Close())
}

func readFile(test *testing.T, r *Registry, path string) []byte {
	test.Helper()
	f, err := r.Open(path, "r")
	if err != nil {
		testutils.FatalHere(test, "Failed opening %s for reading: %s", path, err)
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		testutils.FatalHere(test, "Failed reading %s: %s", path, err)
	}
	return buf.Bytes()
}

// pattern returns n bytes that do not repeat on any block boundary.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// entryNames lists the live entries of a directory.
func entryNames(test *testing.T, r *Registry, path string) []string {
	test.Helper()
	d, err := r.OpenDir(path)
	if err != nil {
		testutils.FatalHere(test, "Failed opening directory %s: %s", path, err)
	}
	defer d.Close()
	var names []string
	for i := 0; ; i++ {
		e, err := d.Entry(i)
		require.NoError(test, err)
		if e == nil {
			return names
		}
		names = append(names, e.Name)
	}
}
