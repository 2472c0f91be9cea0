// Package conn implements the per-peer connection state machine: handshake,
// the message read-loop, and the request-fill policy that keeps a peer's
// in-flight block count topped up.
package conn

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/corvid-dev/leech/internal/wire"
	"github.com/corvid-dev/leech/pkg/bitfield"
)

// Scheduler is the subset of the Torrent scheduler a Connection needs. It is
// declared here, not imported from internal/torrent, so this package has no
// dependency on the scheduler's concrete type.
type Scheduler interface {
	GetNextBlock(peerBitfield bitfield.Bitfield) (piece, offset, length int, ok bool)
	FillBlock(piece, offset int, data []byte)
	TotalPieces() int
}

const (
	DefaultMaxInProgress     = 10
	DefaultHandshakeDeadline = 1500 * time.Millisecond
	DefaultReadDeadline      = 500 * time.Millisecond
	DefaultWriteDeadline     = 500 * time.Millisecond
)

var (
	ErrBadPieceIndex   = errors.New("conn: piece index out of range")
	ErrEmptyPieceBlock = errors.New("conn: piece message carried no data")
)

// Connection owns one peer's TCP stream post-handshake and runs its
// read-drives-the-loop state machine: a single goroutine reads a frame,
// mutates local state, and synchronously writes back whatever frame that
// transition implies. There is no separate writer goroutine.
type Connection struct {
	log  *slog.Logger
	nc   net.Conn
	addr netip.AddrPort

	infoHash [sha1.Size]byte
	peerID   [sha1.Size]byte

	scheduler Scheduler

	totalPieces int
	peerHas     bitfield.Bitfield

	isChoked          bool // peer has choked us
	isLocalInterested bool // we have declared interest to the peer
	inProgress        int

	maxInProgress    int
	handshakeDeadline time.Duration
	readDeadline      time.Duration
	writeDeadline     time.Duration
}

// Options configures a Connection beyond its required fields.
type Options struct {
	Log               *slog.Logger
	MaxInProgress     int
	HandshakeDeadline time.Duration
	ReadDeadline      time.Duration
	WriteDeadline     time.Duration
}

// Dial connects to addr, performs the handshake under its own deadline, and
// returns a ready-to-run Connection.
func Dial(addr netip.AddrPort, dialTimeout time.Duration, infoHash, localPeerID [sha1.Size]byte, scheduler Scheduler, opts Options) (*Connection, error) {
	nc, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return nil, err
	}

	c := newConnection(nc, addr, infoHash, scheduler, opts)

	if err := c.handshake(localPeerID); err != nil {
		_ = nc.Close()
		return nil, err
	}

	return c, nil
}

func newConnection(nc net.Conn, addr netip.AddrPort, infoHash [sha1.Size]byte, scheduler Scheduler, opts Options) *Connection {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	maxInProgress := opts.MaxInProgress
	if maxInProgress <= 0 {
		maxInProgress = DefaultMaxInProgress
	}
	handshakeDeadline := opts.HandshakeDeadline
	if handshakeDeadline <= 0 {
		handshakeDeadline = DefaultHandshakeDeadline
	}
	readDeadline := opts.ReadDeadline
	if readDeadline <= 0 {
		readDeadline = DefaultReadDeadline
	}
	writeDeadline := opts.WriteDeadline
	if writeDeadline <= 0 {
		writeDeadline = DefaultWriteDeadline
	}

	return &Connection{
		log:               log.With("addr", addr),
		nc:                nc,
		addr:              addr,
		infoHash:          infoHash,
		scheduler:         scheduler,
		totalPieces:       scheduler.TotalPieces(),
		peerHas:           bitfield.New(scheduler.TotalPieces()),
		isChoked:          true,
		isLocalInterested: false,
		maxInProgress:     maxInProgress,
		handshakeDeadline: handshakeDeadline,
		readDeadline:      readDeadline,
		writeDeadline:     writeDeadline,
	}
}

func (c *Connection) handshake(localPeerID [sha1.Size]byte) error {
	_ = c.nc.SetDeadline(time.Now().Add(c.handshakeDeadline))
	defer c.nc.SetDeadline(time.Time{})

	remote, err := wire.Exchange(c.nc, wire.NewHandshake(c.infoHash, localPeerID), [sha1.Size]byte{})
	if err != nil {
		return fmt.Errorf("conn: handshake with %s: %w", c.addr, err)
	}
	c.peerID = remote.PeerID
	return nil
}

// Run drives the read-loop until a hard I/O error, a fatal protocol
// violation, or done returns true. It returns nil on a clean stop
// (done became true) and a non-nil error on any other exit.
func (c *Connection) Run(done func() bool) error {
	for {
		if done() {
			return nil
		}

		_ = c.nc.SetReadDeadline(time.Now().Add(c.readDeadline))
		msg, err := wire.ReadMessage(c.nc)
		if err != nil {
			class := wire.ClassifyIOError(err)
			if class.Soft() {
				continue
			}
			if errors.Is(err, wire.ErrShortMessage) || errors.Is(err, wire.ErrBadLengthPrefix) ||
				errors.Is(err, wire.ErrBadPayloadSize) || errors.Is(err, wire.ErrUnknownID) {
				return fmt.Errorf("conn: %s: parse error: %w", c.addr, err)
			}
			return fmt.Errorf("conn: %s: %s: %w", c.addr, class, err)
		}

		if err := c.handle(msg); err != nil {
			return fmt.Errorf("conn: %s: %w", c.addr, err)
		}
	}
}

// Close closes the underlying connection.
func (c *Connection) Close() error { return c.nc.Close() }

// Addr returns the peer's address.
func (c *Connection) Addr() netip.AddrPort { return c.addr }

func (c *Connection) handle(msg *wire.Message) error {
	if wire.IsKeepAlive(msg) {
		return wire.WriteMessage(c.nc, nil)
	}

	switch msg.ID {
	case wire.Choke:
		c.isChoked = true
		return nil

	case wire.Unchoke:
		c.isChoked = false
		return c.fillRequests()

	case wire.Interested, wire.NotInterested:
		// leech-only: we never serve data, so peer interest is a no-op.
		return nil

	case wire.Have:
		index, ok := msg.ParseHave()
		if !ok || int(index) >= c.totalPieces {
			return ErrBadPieceIndex
		}
		c.peerHas.Set(int(index))
		return c.ensureInterested()

	case wire.Bitfield:
		c.peerHas = bitfield.FromBytes(msg.Payload)
		return c.ensureInterested()

	case wire.Request, wire.Cancel:
		// leech-only: we never upload, so ignore requests/cancels for
		// data we'd never serve.
		return nil

	case wire.Piece:
		index, begin, block, ok := msg.ParsePiece()
		if !ok {
			return ErrEmptyPieceBlock
		}
		if int(index) >= c.totalPieces {
			return ErrBadPieceIndex
		}
		if len(block) == 0 {
			return ErrEmptyPieceBlock
		}

		c.scheduler.FillBlock(int(index), int(begin), block)
		if c.inProgress > 0 {
			c.inProgress--
		}
		return c.fillRequests()

	default:
		return fmt.Errorf("unhandled message id %s", msg.ID)
	}
}

func (c *Connection) ensureInterested() error {
	if c.isLocalInterested {
		return nil
	}
	c.isLocalInterested = true
	return wire.WriteMessage(c.nc, wire.MsgInterested())
}

// fillRequests implements the request-fill policy: while unchoked and under
// the in-flight cap, pull blocks from the scheduler and emit request
// frames.
func (c *Connection) fillRequests() error {
	for !c.isChoked && c.inProgress < c.maxInProgress {
		piece, offset, length, ok := c.scheduler.GetNextBlock(c.peerHas)
		if !ok {
			return nil
		}

		if err := c.sendRequest(uint32(piece), uint32(offset), uint32(length)); err != nil {
			return err
		}
		c.inProgress++
	}
	return nil
}

func (c *Connection) sendRequest(index, begin, length uint32) error {
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	defer c.nc.SetWriteDeadline(time.Time{})
	return wire.WriteMessage(c.nc, wire.MsgRequest(index, begin, length))
}
