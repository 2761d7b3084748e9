package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/fs"
)

type shell struct {
	reg *fs.Registry
	out io.Writer
	pwd string // relative to the mount point, no leading slash
}

type command struct {
	usage string
	help  string
	args  int // minimum number of arguments
	run   func(sh *shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"?":     {"?", "help", 0, (*shell).help},
		"ls":    {"ls [dir]", "show directory listing", 0, (*shell).ls},
		"cd":    {"cd dir", "change directory", 1, (*shell).cd},
		"pwd":   {"pwd", "show current directory", 0, (*shell).printPwd},
		"cat":   {"cat file", "show file contents", 1, (*shell).cat},
		"put":   {"put hostfile [name]", "copy a file from the host", 1, (*shell).put},
		"mkdir": {"mkdir dir", "create a directory and its parents", 1, (*shell).mkdir},
		"rmdir": {"rmdir dir", "remove a directory and everything in it", 1, (*shell).rmdir},
		"rm":    {"rm file", "remove a file", 1, (*shell).rm},
		"stats": {"stats", "show volume statistics", 0, (*shell).stats},
	}
}

func (sh *shell) banner(filename string) {
	fmt.Fprintln(sh.out, "Welcome to the ext4fs explorer!")
	fmt.Fprintf(sh.out, "Attached to %s\n", filename)
	if st, err := sh.reg.Stats(mountPoint); err == nil {
		fmt.Fprintf(sh.out, "Block size: %d\n", st.BlockSize)
		fmt.Fprintf(sh.out, "Block groups: %d\n", st.BlockGroupCount)
	}
	fmt.Fprintln(sh.out, "Enter '?' for a list of commands.")
}

func (sh *shell) loop(in io.Reader) {
	buf := bufio.NewReader(in)
	for {
		fmt.Fprintf(sh.out, "/%s> ", sh.pwd)
		line, err := buf.ReadString('\n')
		if err != nil {
			fmt.Fprintln(sh.out)
			return
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if tokens[0] == "quit" || tokens[0] == "exit" {
			return
		}
		sh.exec(tokens)
	}
}

func (sh *shell) exec(tokens []string) {
	cmd, ok := commands[tokens[0]]
	if !ok {
		fmt.Fprintf(sh.out, "%s is not a valid command\n", tokens[0])
		return
	}
	if len(tokens)-1 < cmd.args {
		fmt.Fprintf(sh.out, "Usage: %s\n", cmd.usage)
		return
	}
	if err := cmd.run(sh, tokens[1:]); err != nil {
		fmt.Fprintf(sh.out, "%s: %s\n", tokens[0], err)
	}
}

// resolve turns a shell argument into a registry path.
func (sh *shell) resolve(arg string) string {
	p := arg
	if !strings.HasPrefix(arg, "/") {
		p = path.Join("/", sh.pwd, arg)
	}
	return path.Clean(p)
}

// dirPath is resolve for directories, which always end in a slash.
func (sh *shell) dirPath(arg string) string {
	p := sh.resolve(arg)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (sh *shell) help(args []string) error {
	fmt.Fprintln(sh.out, "Commands:")
	for _, name := range []string{"?", "ls", "cd", "pwd", "cat", "put", "mkdir", "rmdir", "rm", "stats"} {
		c := commands[name]
		fmt.Fprintf(sh.out, "\t%-20s%s\n", c.usage, c.help)
	}
	return nil
}

func typeChar(t uint8) byte {
	switch t {
	case common.FT_DIR:
		return 'd'
	case common.FT_REG_FILE:
		return '-'
	case common.FT_SYMLINK:
		return 'l'
	}
	return '?'
}

func (sh *shell) ls(args []string) error {
	target := sh.dirPath(".")
	if len(args) > 0 {
		target = sh.dirPath(args[0])
	}
	d, err := sh.reg.OpenDir(target)
	if err != nil {
		return err
	}
	defer d.Close()
	for i := 0; ; i++ {
		e, err := d.Entry(i)
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		size := ""
		if e.Type == common.FT_REG_FILE {
			if f, err := sh.reg.Open(target+e.Name, "r"); err == nil {
				size = fmt.Sprint(f.Size())
				f.Close()
			}
		}
		fmt.Fprintf(sh.out, "%c %8d %10s %s\n", typeChar(e.Type), e.Inode, size, e.Name)
	}
}

func (sh *shell) cd(args []string) error {
	target := sh.dirPath(args[0])
	d, err := sh.reg.OpenDir(target)
	if err != nil {
		return err
	}
	d.Close()
	sh.pwd = strings.Trim(target, "/")
	return nil
}

func (sh *shell) printPwd(args []string) error {
	fmt.Fprintf(sh.out, "Current directory is /%s\n", sh.pwd)
	return nil
}

func (sh *shell) cat(args []string) error {
	f, err := sh.reg.Open(sh.resolve(args[0]), "r")
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(sh.out, f); err != nil {
		return err
	}
	fmt.Fprintln(sh.out)
	return nil
}

func (sh *shell) put(args []string) error {
	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	name := path.Base(args[0])
	if len(args) > 1 {
		name = args[1]
	}
	f, err := sh.reg.Open(sh.resolve(name), "w")
	if err != nil {
		return err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Wrote %d bytes\n", n)
	return nil
}

func (sh *shell) mkdir(args []string) error {
	return sh.reg.Mkdir(sh.resolve(args[0]))
}

func (sh *shell) rmdir(args []string) error {
	target := sh.resolve(args[0])
	err := sh.reg.Rmdir(target)
	if err == nil && strings.HasPrefix("/"+sh.pwd+"/", target+"/") {
		sh.pwd = ""
	}
	return err
}

func (sh *shell) rm(args []string) error {
	err := sh.reg.Remove(sh.resolve(args[0]))
	if errors.Is(err, common.ENOENT) {
		return fmt.Errorf("%s: no such file", args[0])
	}
	return err
}

func (sh *shell) stats(args []string) error {
	st, err := sh.reg.Stats(mountPoint)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Volume:        %q\n", strings.TrimRight(string(st.VolumeName[:]), "\x00"))
	fmt.Fprintf(sh.out, "Block size:    %d\n", st.BlockSize)
	fmt.Fprintf(sh.out, "Blocks:        %d (%d free)\n", st.BlocksCount, st.FreeBlocksCount)
	fmt.Fprintf(sh.out, "Inodes:        %d (%d free)\n", st.InodesCount, st.FreeInodesCount)
	fmt.Fprintf(sh.out, "Groups:        %d of %d blocks, %d inodes\n", st.BlockGroupCount, st.BlocksPerGroup, st.InodesPerGroup)
	return nil
}
