// Package engine wires the metadata, tracker, scheduler, and per-peer
// connections together into a single download run.
package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/netip"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corvid-dev/leech/internal/conn"
	"github.com/corvid-dev/leech/internal/meta"
	"github.com/corvid-dev/leech/internal/torrent"
	"github.com/corvid-dev/leech/internal/tracker"
)

// Options configures a single download run.
type Options struct {
	Log *slog.Logger

	ListenPort    int
	NumWant       int
	ClientID      [sha1.Size]byte
	MaxInProgress int

	DialTimeout       time.Duration
	HandshakeDeadline time.Duration
	ReadDeadline      time.Duration
	WriteDeadline     time.Duration

	DialBackoffInitial time.Duration
	DialBackoffMax     time.Duration
	DialMaxAttempts    int

	ProgressInterval time.Duration

	// OutputDir is where completed files are written; empty writes to
	// the current working directory.
	OutputDir string
}

// NewPeerID returns a 20-byte peer id starting with prefix, padded with
// cryptographically random bytes.
func NewPeerID(prefix string) [sha1.Size]byte {
	var id [sha1.Size]byte
	n := copy(id[:], prefix)

	for i := n; i < sha1.Size; i++ {
		b, err := rand.Int(rand.Reader, big.NewInt(256))
		if err != nil {
			id[i] = byte(i)
			continue
		}
		id[i] = byte(b.Int64())
	}
	return id
}

// Run reads metaPath, announces to the tracker, downloads from the
// resulting peers, and writes the completed files to opts.OutputDir. It
// returns once every worker has exited and the files are written, or on a
// startup error.
func Run(ctx context.Context, metaPath string, opts Options) error {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("engine: reading metadata file: %w", err)
	}

	mi, err := meta.ParseMetainfo(data)
	if err != nil {
		return fmt.Errorf("engine: parsing metadata: %w", err)
	}

	tr := torrent.New(mi)

	trackerClient, err := tracker.NewClient(mi.Announce)
	if err != nil {
		return fmt.Errorf("engine: tracker client: %w", err)
	}

	announce, err := trackerClient.Announce(ctx, tracker.AnnounceParams{
		InfoHash: mi.InfoHash,
		PeerID:   opts.ClientID,
		Port:     uint16(opts.ListenPort),
		Left:     uint64(mi.Size()),
		Event:    tracker.EventStarted,
		NumWant:  opts.NumWant,
	})
	if err != nil {
		return fmt.Errorf("engine: tracker announce: %w", err)
	}

	peers := filterSelf(announce.Peers, opts.ListenPort)
	log.Info("tracker announce complete", "peers", len(peers))

	progressStop := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		reportProgress(ctx, log, tr, opts.ProgressInterval, progressStop)
		close(progressDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range peers {
		addr := addr
		g.Go(func() error {
			runWorker(gctx, log, addr, mi.InfoHash, opts.ClientID, tr, opts)
			return nil
		})
	}
	err = g.Wait()

	close(progressStop)
	<-progressDone
	if err != nil {
		return err
	}

	files := outputFiles(mi)
	if writeErr := tr.ToFiles(opts.OutputDir, files); writeErr != nil {
		return fmt.Errorf("engine: writing output: %w", writeErr)
	}

	log.Info("download complete", "duplicate_blocks", tr.RepeatedBlocks())
	return nil
}

// filterSelf drops any peer entry that is this process itself: loopback
// address at the port we announced to the tracker.
func filterSelf(peers []netip.AddrPort, listenPort int) []netip.AddrPort {
	out := peers[:0:0]
	for _, p := range peers {
		if p.Addr().IsLoopback() && int(p.Port()) == listenPort {
			continue
		}
		out = append(out, p)
	}
	return out
}

func outputFiles(mi *meta.Metainfo) []torrent.FileEntry {
	if len(mi.Info.Files) == 0 {
		return []torrent.FileEntry{{Path: mi.Info.Name, Length: mi.Info.Length}}
	}

	files := make([]torrent.FileEntry, len(mi.Info.Files))
	for i, f := range mi.Info.Files {
		path := mi.Info.Name
		for _, seg := range f.Path {
			path = path + string(os.PathSeparator) + seg
		}
		files[i] = torrent.FileEntry{Path: path, Length: f.Length}
	}
	return files
}

// runWorker connects to addr with exponential backoff, performs the
// handshake, and drives the read-loop until a hard error, global
// completion, or context cancellation.
func runWorker(ctx context.Context, log *slog.Logger, addr netip.AddrPort, infoHash, clientID [sha1.Size]byte, tr *torrent.Torrent, opts Options) {
	l := log.With("peer", addr)

	c, err := dialWithBackoff(ctx, addr, infoHash, clientID, tr, opts)
	if err != nil {
		l.Debug("giving up on peer", "error", err)
		return
	}
	defer c.Close()

	l.Debug("handshake complete")

	done := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
		}
		return tr.AreWeDone()
	}

	if err := c.Run(done); err != nil {
		l.Debug("worker exiting", "error", err)
	}
}

func dialWithBackoff(ctx context.Context, addr netip.AddrPort, infoHash, clientID [sha1.Size]byte, tr *torrent.Torrent, opts Options) (*conn.Connection, error) {
	backoff := opts.DialBackoffInitial
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := opts.DialBackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	maxAttempts := opts.DialMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c, err := conn.Dial(addr, opts.DialTimeout, infoHash, clientID, tr, conn.Options{
			MaxInProgress:     opts.MaxInProgress,
			HandshakeDeadline: opts.HandshakeDeadline,
			ReadDeadline:      opts.ReadDeadline,
			WriteDeadline:     opts.WriteDeadline,
		})
		if err == nil {
			return c, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(maxBackoff)))
	}

	return nil, fmt.Errorf("dial %s: %w (after %d attempts)", addr, lastErr, maxAttempts)
}

func reportProgress(ctx context.Context, log *slog.Logger, tr *torrent.Torrent, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			log.Info("progress",
				"percent", fmt.Sprintf("%.1f%%", tr.PercentComplete()*100),
				"duplicate_blocks", tr.RepeatedBlocks(),
			)
		}
	}
}
