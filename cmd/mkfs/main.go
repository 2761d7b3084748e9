// This command creates a new ext2 style filesystem (no journal, indirect
// block mapping) in an image file or a badger block store.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/super"
	"github.com/urfave/cli/v2"
)

const SECTOR_SIZE = 512

func main() {
	app := cli.App{
		Name:      "mkfs",
		Usage:     "create a new filesystem image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "size",
				Value: "8M",
				Usage: "size of the filesystem, with an optional K, M or G suffix",
			},
			&cli.UintFlag{
				Name:  "block-size",
				Value: 1024,
				Usage: "filesystem block size (1024, 2048 or 4096)",
			},
			&cli.UintFlag{
				Name:  "inode-size",
				Value: 256,
				Usage: "on-disk inode size (128 or 256)",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "volume name, at most 16 bytes",
			},
			&cli.BoolFlag{
				Name:  "dir-index",
				Usage: "set the dir_index feature",
			},
			&cli.BoolFlag{
				Name:  "badger",
				Usage: "create IMAGE as a badger block store directory",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("mkfs: exactly one image must be given", 2)
			}
			size, err := parseSize(ctx.String("size"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("mkfs: %s", err), 2)
			}
			opts := mkfs.Options{
				BlockSize:  uint32(ctx.Uint("block-size")),
				InodeSize:  uint16(ctx.Uint("inode-size")),
				VolumeName: ctx.String("label"),
				DirIndex:   ctx.Bool("dir-index"),
			}
			sb, err := create(ctx.Args().First(), size, ctx.Bool("badger"), opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("mkfs: %s", err), 1)
			}
			summary(ctx.App.Writer, ctx.Args().First(), sb)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("%s", err)
		os.Exit(1)
	}
}

// parseSize reads a byte count such as 4096, 64K, 8M or 1G.
func parseSize(s string) (uint64, error) {
	mult := uint64(1)
	num := strings.TrimSpace(s)
	if n := len(num); n > 0 {
		switch num[n-1] {
		case 'k', 'K':
			mult = 1 << 10
		case 'm', 'M':
			mult = 1 << 20
		case 'g', 'G':
			mult = 1 << 30
		}
		if mult != 1 {
			num = num[:n-1]
		}
	}
	v, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", s, common.EINVAL)
	}
	size := v * mult
	if size < 64<<10 || size/mult != v {
		return 0, fmt.Errorf("size %q out of range: %w", s, common.EINVAL)
	}
	return size, nil
}

func create(path string, size uint64, useBadger bool, opts mkfs.Options) (*super.Superblock, error) {
	sectors := size / SECTOR_SIZE
	var drv common.Driver
	if useBadger {
		drv = device.NewBadger(device.BadgerOptions{
			Path:      path,
			BlockSize: SECTOR_SIZE,
			Blocks:    sectors,
		})
	} else {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		err = file.Truncate(int64(sectors * SECTOR_SIZE))
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		if drv, err = device.NewFile(path, SECTOR_SIZE, false); err != nil {
			return nil, err
		}
	}
	return mkfs.Format(path, drv, opts)
}

func summary(w io.Writer, path string, sb *super.Superblock) {
	fmt.Fprintf(w, "Created %s\n", path)
	if label := sb.VolumeLabel(); label != "" {
		fmt.Fprintf(w, "Volume name:  %s\n", label)
	}
	fmt.Fprintf(w, "Block size:   %d\n", sb.BlockSize())
	fmt.Fprintf(w, "Blocks:       %d (%d free)\n", sb.BlocksCount(), sb.FreeBlocksCount())
	fmt.Fprintf(w, "Inodes:       %d (%d free)\n", sb.InodesCount, sb.FreeInodesCount)
	fmt.Fprintf(w, "Groups:       %d\n", sb.BlockGroupCount())
}
