// This command checks the consistency of an ext2/3/4 image without
// journal, extents or checksums: the superblock, the free counts of every
// group and the directory tree with its link counts. It never writes to
// the image.
package main

import (
	"fmt"
	"os"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/super"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:      "fsck",
		Usage:     "check the consistency of a filesystem image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "listing",
				Aliases: []string{"l"},
				Usage:   "list every file and directory",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "dump every directory block as it is checked",
			},
			&cli.UintFlag{
				Name:  "cache",
				Value: 64,
				Usage: "blocks to cache while checking",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("fsck: exactly one image must be given", 2)
			}
			if ctx.Bool("verbose") {
				logger.SetLevel("DEBUG")
			}
			c, err := chkdev(ctx.Args().First(), int(ctx.Uint("cache")))
			if err != nil {
				return cli.Exit(fmt.Sprintf("fsck: %s", err), 8)
			}
			defer c.dev.Fini()
			c.listing = ctx.Bool("listing")
			c.verbose = ctx.Bool("verbose")

			c.check()
			c.printtotal()
			if c.errors > 0 {
				return cli.Exit(fmt.Sprintf("fsck: %d errors found", c.errors), 4)
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("%s", err)
		os.Exit(1)
	}
}

// chkdev opens the image read-only and loads the superblock. The
// superblock is not validated here, check reports on it.
func chkdev(filename string, cacheSize int) (*checker, error) {
	drv, err := device.NewFile(filename, 512, true)
	if err != nil {
		return nil, err
	}
	dev := blockdev.New(filename, drv, nil)
	if err := dev.Init(); err != nil {
		return nil, err
	}
	sb, err := super.Read(dev)
	if err != nil {
		dev.Fini()
		return nil, err
	}
	if err := sb.Validate(); err != nil {
		dev.Fini()
		return nil, fmt.Errorf("bad superblock: %w", err)
	}
	if err := dev.SetLogicalBlockSize(sb.BlockSize()); err != nil {
		dev.Fini()
		return nil, err
	}
	if err := dev.BindCache(bcache.New(sb.BlockSize(), max(cacheSize, 8), nil)); err != nil {
		dev.Fini()
		return nil, err
	}
	alloc, err := alloctbl.New(dev, sb)
	if err != nil {
		dev.Fini()
		return nil, err
	}
	return newChecker(dev, sb, alloc, inode.NewTable(dev, sb, alloc), os.Stdout), nil
}
