package tracker

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/corvid-dev/leech/pkg/bencode"
)

const (
	ipv4Bytes     = 4
	ipv6Bytes     = 16
	compactStride = ipv4Bytes + 2 // 4-byte IPv4 address + 2-byte port
)

// decodePeers interprets the 'peers' field, which is either a compact
// byte-string (a multiple of 6 bytes, each a 4-byte IPv4 address plus a
// 2-byte big-endian port) or a list of dictionaries with 'ip'/'port' keys.
func decodePeers(v bencode.Value) ([]netip.AddrPort, error) {
	switch v.Kind {
	case bencode.KindString:
		return decodeCompactPeers(v.Str)
	case bencode.KindList:
		return decodeDictPeers(v.List)
	default:
		return nil, fmt.Errorf("invalid peers type %s", v.Kind)
	}
}

func decodeCompactPeers(data []byte) ([]netip.AddrPort, error) {
	if len(data)%compactStride != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of %d", len(data), compactStride)
	}

	n := len(data) / compactStride
	out := make([]netip.AddrPort, n)
	for i, off := 0, 0; i < n; i, off = i+1, off+compactStride {
		chunk := data[off : off+compactStride]
		addr := netip.AddrFrom4([4]byte{chunk[0], chunk[1], chunk[2], chunk[3]})
		port := binary.BigEndian.Uint16(chunk[4:6])
		out[i] = netip.AddrPortFrom(addr, port)
	}

	return out, nil
}

func decodeDictPeers(list []bencode.Value) ([]netip.AddrPort, error) {
	peers := make([]netip.AddrPort, 0, len(list))

	for i, item := range list {
		dict, ok := item.AsDict()
		if !ok {
			return nil, fmt.Errorf("peer[%d]: not a dict", i)
		}

		ipVal, ok := dict.Get("ip")
		if !ok {
			return nil, fmt.Errorf("peer[%d]: missing 'ip'", i)
		}
		ipBytes, ok := ipVal.AsBytes()
		if !ok {
			return nil, fmt.Errorf("peer[%d]: 'ip' is not a byte-string", i)
		}

		addr, err := parseIP(ipBytes)
		if err != nil {
			return nil, fmt.Errorf("peer[%d]: %w", i, err)
		}

		portVal, ok := dict.Get("port")
		if !ok {
			return nil, fmt.Errorf("peer[%d]: missing 'port'", i)
		}
		port, ok := portVal.AsInt()
		if !ok || port < 1 || port > 65535 {
			return nil, fmt.Errorf("peer[%d]: invalid port", i)
		}

		peers = append(peers, netip.AddrPortFrom(addr, uint16(port)))
	}

	return peers, nil
}

func parseIP(b []byte) (netip.Addr, error) {
	switch len(b) {
	case ipv4Bytes:
		return netip.AddrFrom4([4]byte(b)), nil
	case ipv6Bytes:
		return netip.AddrFrom16([16]byte(b)), nil
	default:
		// the dict form also allows a dotted-decimal string; try that
		// before giving up.
		if addr, err := netip.ParseAddr(string(b)); err == nil {
			return addr, nil
		}
		return netip.Addr{}, fmt.Errorf("unrecognized ip encoding, length %d", len(b))
	}
}
