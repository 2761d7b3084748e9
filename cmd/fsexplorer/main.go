// fsexplorer mounts a filesystem image and offers a small shell for
// looking around in it and changing it.
package main

import (
	"net/http"
	"os"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/config"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/fs"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const mountPoint = "/"

func main() {
	app := cli.App{
		Name:      "fsexplorer",
		Usage:     "explore a filesystem image interactively",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "configuration file (yaml, toml or json)",
			},
			&cli.BoolFlag{
				Name:  "badger",
				Usage: "treat IMAGE as a badger block store directory",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, e.g. :9100",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("%s", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("fsexplorer: exactly one image must be given", 2)
	}
	filename := ctx.Args().First()

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if ctx.String("metrics-addr") != "" {
		cfg.Metrics.Enabled = true
	}
	cfg.Apply()

	if addr := ctx.String("metrics-addr"); addr != "" {
		handler := promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
		go func() {
			if err := http.ListenAndServe(addr, handler); err != nil {
				logger.Error("metrics listener on %s: %s", addr, err)
			}
		}()
	}

	var drv common.Driver
	if ctx.Bool("badger") {
		drv, err = device.OpenBadgerStore(filename)
	} else {
		drv, err = device.NewFile(filename, 512, false)
	}
	if err != nil {
		return err
	}

	r := fs.NewRegistry(cfg.Options())
	if err := r.Register(drv, nil, filename); err != nil {
		return err
	}
	if err := r.Mount(filename, mountPoint); err != nil {
		return err
	}
	defer r.Umount(mountPoint)

	sh := &shell{reg: r, out: os.Stdout}
	sh.banner(filename)
	sh.loop(os.Stdin)
	return nil
}
