package engine

import (
	"net/netip"
	"testing"

	"github.com/corvid-dev/leech/internal/meta"
)

func TestFilterSelfDropsLoopbackOnOurPort(t *testing.T) {
	peers := []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:6881"),
		netip.MustParseAddrPort("127.0.0.1:9999"),
		netip.MustParseAddrPort("10.0.0.5:6881"),
	}

	got := filterSelf(peers, 6881)
	if len(got) != 2 {
		t.Fatalf("filterSelf returned %d peers, want 2: %v", len(got), got)
	}
	for _, p := range got {
		if p.Addr().IsLoopback() && int(p.Port()) == 6881 {
			t.Fatalf("self peer %v was not filtered", p)
		}
	}
}

func TestFilterSelfKeepsLoopbackOnDifferentPort(t *testing.T) {
	peers := []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:7000")}
	got := filterSelf(peers, 6881)
	if len(got) != 1 {
		t.Fatalf("expected loopback peer on a different port to survive, got %v", got)
	}
}

func TestOutputFilesSingleFile(t *testing.T) {
	mi := &meta.Metainfo{Info: &meta.Info{Name: "movie.avi", Length: 1234}}
	files := outputFiles(mi)

	if len(files) != 1 || files[0].Path != "movie.avi" || files[0].Length != 1234 {
		t.Fatalf("unexpected single-file layout: %+v", files)
	}
}

func TestOutputFilesMultiFile(t *testing.T) {
	mi := &meta.Metainfo{
		Info: &meta.Info{
			Name: "bundle",
			Files: []*meta.File{
				{Length: 100, Path: []string{"dir", "a.txt"}},
				{Length: 200, Path: []string{"b.txt"}},
			},
		},
	}

	files := outputFiles(mi)
	if len(files) != 2 {
		t.Fatalf("want 2 files, got %d", len(files))
	}
	if files[0].Length != 100 || files[1].Length != 200 {
		t.Fatalf("unexpected lengths: %+v", files)
	}
}

func TestNewPeerIDUsesPrefix(t *testing.T) {
	id := NewPeerID("-LE0001-")
	if string(id[:8]) != "-LE0001-" {
		t.Fatalf("peer id prefix mismatch: %q", id[:8])
	}
}
