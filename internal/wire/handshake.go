// Package wire implements the BitTorrent peer wire protocol: the initial
// handshake frame and the length-prefixed message stream that follows it.
package wire

import (
	"crypto/sha1"
	"encoding"
	"errors"
	"io"
)

const (
	protocolName = "BitTorrent protocol"
	reservedLen  = 8
	HandshakeLen = 1 + len(protocolName) + reservedLen + sha1.Size + sha1.Size
)

// Handshake is the fixed 68-byte frame exchanged before any message frame.
//
// Wire format:
//
//	<pstrlen=19><pstr="BitTorrent protocol"><reserved:8><info_hash:20><peer_id:20>
type Handshake struct {
	InfoHash [sha1.Size]byte
	PeerID   [sha1.Size]byte
}

var (
	ErrShortHandshake   = errors.New("wire: short handshake")
	ErrBadPstrlen       = errors.New("wire: unexpected protocol string length")
	ErrProtocolMismatch = errors.New("wire: protocol string mismatch")
	ErrInfoHashMismatch = errors.New("wire: info hash mismatch")
	ErrPeerIDMismatch   = errors.New("wire: peer id mismatch")
)

var (
	_ encoding.BinaryMarshaler   = (*Handshake)(nil)
	_ encoding.BinaryUnmarshaler = (*Handshake)(nil)
	_ io.WriterTo                = (*Handshake)(nil)
	_ io.ReaderFrom              = (*Handshake)(nil)
)

// NewHandshake builds a canonical handshake for infoHash and peerID.
func NewHandshake(infoHash, peerID [sha1.Size]byte) Handshake {
	return Handshake{InfoHash: infoHash, PeerID: peerID}
}

// MarshalBinary encodes h into its 68-byte wire representation.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	off := 1
	off += copy(buf[off:], protocolName)
	off += reservedLen // already zero
	off += copy(buf[off:], h.InfoHash[:])
	copy(buf[off:], h.PeerID[:])
	return buf, nil
}

// UnmarshalBinary parses a handshake from exactly HandshakeLen bytes,
// rejecting anything whose protocol string doesn't match.
func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) < HandshakeLen {
		return ErrShortHandshake
	}

	pstrlen := int(b[0])
	if pstrlen != len(protocolName) {
		return ErrBadPstrlen
	}

	off := 1
	if string(b[off:off+pstrlen]) != protocolName {
		return ErrProtocolMismatch
	}
	off += pstrlen + reservedLen

	copy(h.InfoHash[:], b[off:off+sha1.Size])
	off += sha1.Size
	copy(h.PeerID[:], b[off:off+sha1.Size])
	return nil
}

// WriteTo writes the handshake's wire representation to w.
func (h Handshake) WriteTo(w io.Writer) (int64, error) {
	b, _ := h.MarshalBinary()
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads and decodes a complete handshake from r.
func (h *Handshake) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, HandshakeLen)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return int64(n), ErrShortHandshake
		}
		return int64(n), err
	}
	return int64(n), h.UnmarshalBinary(buf)
}

// Exchange writes h to rw, reads the remote's handshake back, and verifies
// its protocol string and info-hash match. If wantPeerID is non-zero, the
// remote's peer-id is also checked against it.
func Exchange(rw io.ReadWriter, h Handshake, wantPeerID [sha1.Size]byte) (Handshake, error) {
	if _, err := h.WriteTo(rw); err != nil {
		return Handshake{}, err
	}

	var remote Handshake
	if _, err := remote.ReadFrom(rw); err != nil {
		return Handshake{}, err
	}

	if remote.InfoHash != h.InfoHash {
		return Handshake{}, ErrInfoHashMismatch
	}
	if wantPeerID != ([sha1.Size]byte{}) && remote.PeerID != wantPeerID {
		return Handshake{}, ErrPeerIDMismatch
	}

	return remote, nil
}
