package conn

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/corvid-dev/leech/internal/wire"
	"github.com/corvid-dev/leech/pkg/bitfield"
)

type stubScheduler struct {
	totalPieces int
	blocks      []block
	next        int
	filled      []fill
}

type block struct {
	piece, offset, length int
}

type fill struct {
	piece, offset int
	data          []byte
}

func (s *stubScheduler) TotalPieces() int { return s.totalPieces }

func (s *stubScheduler) GetNextBlock(bf bitfield.Bitfield) (int, int, int, bool) {
	if s.next >= len(s.blocks) {
		return 0, 0, 0, false
	}
	b := s.blocks[s.next]
	s.next++
	return b.piece, b.offset, b.length, true
}

func (s *stubScheduler) FillBlock(piece, offset int, data []byte) {
	cp := append([]byte(nil), data...)
	s.filled = append(s.filled, fill{piece, offset, cp})
}

func newPipeConnection(t *testing.T, sched Scheduler) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	addr := netip.MustParseAddrPort("127.0.0.1:6881")
	c := newConnection(client, addr, [20]byte{}, sched, Options{
		ReadDeadline:  50 * time.Millisecond,
		WriteDeadline: 50 * time.Millisecond,
	})
	return c, server
}

func TestUnchokeTriggersRequestFill(t *testing.T) {
	sched := &stubScheduler{totalPieces: 4, blocks: []block{{0, 0, 16384}}}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		if err := c.handle(wire.MsgUnchoke()); err != nil {
			t.Errorf("handle(unchoke): %v", err)
		}
		close(done)
	}()

	msg, err := wire.ReadMessage(server)
	<-done
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	idx, begin, length, ok := msg.ParseRequest()
	if !ok || idx != 0 || begin != 0 || length != 16384 {
		t.Fatalf("unexpected request %+v", msg)
	}
	if c.isChoked {
		t.Fatalf("isChoked should be false after unchoke")
	}
	if c.inProgress != 1 {
		t.Fatalf("inProgress = %d, want 1", c.inProgress)
	}
}

func TestHaveSetsBitAndSendsInterested(t *testing.T) {
	sched := &stubScheduler{totalPieces: 4}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		if err := c.handle(wire.MsgHave(2)); err != nil {
			t.Errorf("handle(have): %v", err)
		}
		close(done)
	}()

	msg, err := wire.ReadMessage(server)
	<-done
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.ID != wire.Interested {
		t.Fatalf("expected interested frame, got %v", msg.ID)
	}
	if !c.peerHas.Has(2) {
		t.Fatalf("bit 2 should be set")
	}
	if !c.isLocalInterested {
		t.Fatalf("isLocalInterested should be true")
	}
}

func TestHaveOutOfRangeIsFatal(t *testing.T) {
	sched := &stubScheduler{totalPieces: 4}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	if err := c.handle(wire.MsgHave(99)); err != ErrBadPieceIndex {
		t.Fatalf("err = %v, want ErrBadPieceIndex", err)
	}
}

func TestPieceDeliversToSchedulerAndDecrementsInProgress(t *testing.T) {
	sched := &stubScheduler{totalPieces: 4}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	c.inProgress = 1
	c.isChoked = true // no further request-fill should happen

	if err := c.handle(wire.MsgPiece(0, 0, []byte("payload"))); err != nil {
		t.Fatalf("handle(piece): %v", err)
	}

	if c.inProgress != 0 {
		t.Fatalf("inProgress = %d, want 0", c.inProgress)
	}
	if len(sched.filled) != 1 || string(sched.filled[0].data) != "payload" {
		t.Fatalf("unexpected filled blocks: %+v", sched.filled)
	}
	_ = server
}

func TestEmptyPieceBlockIsFatal(t *testing.T) {
	sched := &stubScheduler{totalPieces: 4}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	if err := c.handle(wire.MsgPiece(0, 0, nil)); err != ErrEmptyPieceBlock {
		t.Fatalf("err = %v, want ErrEmptyPieceBlock", err)
	}
}

func TestKeepAliveEchoed(t *testing.T) {
	sched := &stubScheduler{totalPieces: 1}
	c, server := newPipeConnection(t, sched)
	defer c.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		if err := c.handle(nil); err != nil {
			t.Errorf("handle(keep-alive): %v", err)
		}
		close(done)
	}()

	msg, err := wire.ReadMessage(server)
	<-done
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected echoed keep-alive, got %+v", msg)
	}
}
