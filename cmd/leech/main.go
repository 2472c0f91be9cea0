// Command leech downloads a single .torrent file's content from the
// BitTorrent swarm and exits. It never uploads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corvid-dev/leech/internal/config"
	"github.com/corvid-dev/leech/internal/engine"
	"github.com/corvid-dev/leech/internal/logging"
)

func main() {
	setupLogger()

	var (
		outputDir = flag.String("out", "", "directory to write completed files to (default: config download dir)")
		port      = flag.Int("port", 0, "port advertised to the tracker (default: config)")
		numWant   = flag.Int("numwant", 0, "number of peers to request from the tracker (default: config)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <torrent-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	config.Init()
	cfg := config.Load()

	if *port > 0 {
		cfg = config.Update(func(c *config.Config) { c.ListenPort = uint16(*port) })
	}
	if *numWant > 0 {
		cfg = config.Update(func(c *config.Config) { c.NumWant = *numWant })
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir := *outputDir
	if dir == "" {
		dir = cfg.DownloadDir
	}

	opts := engine.Options{
		Log:                slog.Default(),
		ListenPort:         int(cfg.ListenPort),
		NumWant:            cfg.NumWant,
		ClientID:           engine.NewPeerID(cfg.ClientIDPrefix),
		MaxInProgress:      cfg.MaxInProgress,
		DialTimeout:        cfg.DialTimeout,
		HandshakeDeadline:  cfg.HandshakeDeadline,
		ReadDeadline:       cfg.ReadTimeout,
		WriteDeadline:      cfg.WriteTimeout,
		DialBackoffInitial: cfg.DialBackoffInitial,
		DialBackoffMax:     cfg.DialBackoffMax,
		DialMaxAttempts:    cfg.DialMaxAttempts,
		ProgressInterval:   cfg.ProgressInterval,
		OutputDir:          dir,
	}

	if err := engine.Run(ctx, flag.Arg(0), opts); err != nil {
		slog.Error("download failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
