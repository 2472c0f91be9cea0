package bencode

import (
	"strconv"
)

// Marshal canonically encodes v. Dictionaries are always emitted with keys
// in ascending lexicographic order regardless of the order Dict carries
// them in, since that ordering is what the info-hash derivation depends on.
//
// For any input that decoded without error, Marshal(v) reproduces the
// original bytes exactly: encode(decode(b)) == b.
func Marshal(v Value) []byte {
	buf := make([]byte, 0, 64)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindString:
		buf = strconv.AppendInt(buf, int64(len(v.Str)), 10)
		buf = append(buf, ':')
		return append(buf, v.Str...)
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, int64(v.Int), 10)
		return append(buf, 'e')
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		return append(buf, 'e')
	case KindDict:
		entries := append(DictEntries(nil), v.Dict...)
		sortEntries(entries)
		buf = append(buf, 'd')
		for _, e := range entries {
			buf = appendValue(buf, Bytes(e.Key))
			buf = appendValue(buf, e.Val)
		}
		return append(buf, 'e')
	default:
		return buf
	}
}
