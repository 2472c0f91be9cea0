package torrent

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/corvid-dev/leech/internal/meta"
	"github.com/corvid-dev/leech/pkg/bitfield"
)

func fakeMetainfo(totalLength int64, pieceLength int) *meta.Metainfo {
	numPieces := int((totalLength + int64(pieceLength) - 1) / int64(pieceLength))
	pieces := make([][sha1.Size]byte, numPieces)

	return &meta.Metainfo{
		Info: &meta.Info{
			Name:        "Charlie_Chaplin_Mabels_Strange_Predicament.avi",
			PieceLength: int32(pieceLength),
			Pieces:      pieces,
			Length:      totalLength,
		},
	}
}

func allOnes(n int) bitfield.Bitfield {
	bf := bitfield.New(n)
	for i := 0; i < n; i++ {
		bf.Set(i)
	}
	return bf
}

func TestSchedulerGeometryAndDispatchOrder(t *testing.T) {
	mi := fakeMetainfo(170835968, 131072)
	tr := New(mi)

	if tr.totalPieces != 1304 {
		t.Fatalf("totalPieces = %d, want 1304", tr.totalPieces)
	}
	if len(tr.active) != 1304 {
		t.Fatalf("active pieces = %d, want 1304", len(tr.active))
	}
	if len(tr.active[0].blocks) != 8 {
		t.Fatalf("piece 0 blocks = %d, want 8", len(tr.active[0].blocks))
	}

	last := tr.active[len(tr.active)-1]
	if last.length != 49152 {
		t.Fatalf("last piece length = %d, want 49152", last.length)
	}
	if len(last.blocks) != 3 {
		t.Fatalf("last piece blocks = %d, want 3", len(last.blocks))
	}
	if tr.totalBlocks != 10427 {
		t.Fatalf("totalBlocks = %d, want 10427", tr.totalBlocks)
	}

	bf := allOnes(1304)

	// Piece 0's 8 blocks dispatch in order before any other piece appears.
	for i := 0; i < 8; i++ {
		p, off, length, ok := tr.GetNextBlock(bf)
		if !ok || p != 0 || off != i*BlockSize || length != BlockSize {
			t.Fatalf("block %d: got (%d,%d,%d,%v), want (0,%d,%d,true)", i, p, off, length, ok, i*BlockSize, BlockSize)
		}
		tr.FillBlock(0, i*BlockSize, make([]byte, BlockSize))
	}

	// Piece 0 is now fully drained and removed from the active list via
	// swap_remove, which moves the last piece (1303) into its slot — so
	// piece 1303 is handed out next, not piece 1.
	for i := 0; i < 3; i++ {
		p, off, length, ok := tr.GetNextBlock(bf)
		want := BlockSize
		if i == 2 {
			want = 49152 - BlockSize*2
		}
		if !ok || p != 1303 || off != i*BlockSize || length != want {
			t.Fatalf("piece 1303 block %d: got (%d,%d,%d,%v), want (1303,%d,%d,true)", i, p, off, length, ok, i*BlockSize, want)
		}
		tr.FillBlock(1303, i*BlockSize, make([]byte, want))
	}

	// Piece 1303 is now drained; swap_remove again moves the new last
	// piece (1302) into its slot.
	for i := 0; i < 8; i++ {
		p, off, length, ok := tr.GetNextBlock(bf)
		if !ok || p != 1302 || off != i*BlockSize || length != BlockSize {
			t.Fatalf("piece 1302 block %d: got (%d,%d,%d,%v), want (1302,%d,%d,true)", i, p, off, length, ok, i*BlockSize, BlockSize)
		}
		tr.FillBlock(1302, i*BlockSize, make([]byte, BlockSize))
	}

	if tr.AreWeDone() {
		t.Fatalf("not all blocks dispatched yet, AreWeDone should be false")
	}
}

func TestFillBlockDuplicateArrivalTallied(t *testing.T) {
	mi := fakeMetainfo(BlockSize*2, BlockSize*2)
	tr := New(mi)
	bf := allOnes(1)

	p, off, _, ok := tr.GetNextBlock(bf)
	if !ok {
		t.Fatalf("expected a block")
	}
	tr.FillBlock(p, off, make([]byte, BlockSize))
	tr.FillBlock(p, off, make([]byte, BlockSize)) // duplicate

	if got := tr.RepeatedBlocks(); got != 1 {
		t.Fatalf("RepeatedBlocks() = %d, want 1", got)
	}
}

func TestAreWeDoneAndPercentComplete(t *testing.T) {
	mi := fakeMetainfo(BlockSize, BlockSize)
	tr := New(mi)
	bf := allOnes(1)

	if tr.AreWeDone() {
		t.Fatalf("should not be done before any block arrives")
	}

	p, off, length, ok := tr.GetNextBlock(bf)
	if !ok {
		t.Fatalf("expected a block")
	}
	tr.FillBlock(p, off, make([]byte, length))

	if !tr.AreWeDone() {
		t.Fatalf("should be done after the only block arrives")
	}
	if tr.PercentComplete() != 1.0 {
		t.Fatalf("PercentComplete() = %v, want 1.0", tr.PercentComplete())
	}
}

func TestGetNextBlockRespectsBitfieldFilter(t *testing.T) {
	mi := fakeMetainfo(BlockSize*2, BlockSize)
	tr := New(mi)

	bf := bitfield.New(2)
	bf.Set(1) // peer only has piece 1

	p, _, _, ok := tr.GetNextBlock(bf)
	if !ok || p != 1 {
		t.Fatalf("got (%d, %v), want (1, true)", p, ok)
	}
}

func TestGetNextBlockNoneWhenBitfieldEmpty(t *testing.T) {
	mi := fakeMetainfo(BlockSize, BlockSize)
	tr := New(mi)

	_, _, _, ok := tr.GetNextBlock(bitfield.New(1))
	if ok {
		t.Fatalf("expected no block for an all-zero peer bitfield")
	}
}

func TestToFilesSplitsBufferInOrder(t *testing.T) {
	mi := fakeMetainfo(BlockSize, BlockSize)
	tr := New(mi)
	bf := allOnes(1)

	p, off, length, _ := tr.GetNextBlock(bf)
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i)
	}
	tr.FillBlock(p, off, data)

	dir := t.TempDir()
	files := []FileEntry{
		{Path: "a.bin", Length: BlockSize / 2},
		{Path: "b.bin", Length: BlockSize / 2},
	}
	if err := tr.ToFiles(dir, files); err != nil {
		t.Fatalf("ToFiles: %v", err)
	}

	for i, f := range files {
		got, err := os.ReadFile(filepath.Join(dir, f.Path))
		if err != nil {
			t.Fatalf("reading %s: %v", f.Path, err)
		}
		want := data[i*BlockSize/2 : (i+1)*BlockSize/2]
		if !bytes.Equal(got, want) {
			t.Fatalf("%s does not hold bytes [%d, %d) of the buffer", f.Path, i*BlockSize/2, (i+1)*BlockSize/2)
		}
	}
}
