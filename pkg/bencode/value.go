// Package bencode implements the tagged-dictionary binary encoding used by
// torrent metadata files and tracker responses: byte-strings, signed
// integers, ordered lists, and dictionaries with byte-string keys kept in
// ascending lexicographic order.
package bencode

import "fmt"

// Kind discriminates the four value shapes a Value can hold.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// Value is a single decoded bencode value. Exactly one of the fields below
// is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Str  []byte      // KindString: raw bytes, never assumed to be text
	Int  int32       // KindInt
	List []Value     // KindList
	Dict DictEntries // KindDict: entries kept in ascending key order
}

// DictEntry is one key/value pair of a dictionary value.
type DictEntry struct {
	Key []byte
	Val Value
}

// DictEntries is a dictionary's entries, conventionally kept sorted in
// ascending lexicographic order of Key. Lookups are linear: real-world
// torrent dictionaries are a handful of keys, so a map/binary-search
// wouldn't earn its complexity.
type DictEntries []DictEntry

// Get returns the value associated with key, and whether it was present.
func (d DictEntries) Get(key string) (Value, bool) {
	for _, e := range d {
		if string(e.Key) == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

// String constructs a KindString value from text.
func String(s string) Value { return Value{Kind: KindString, Str: []byte(s)} }

// Bytes constructs a KindString value from raw bytes.
func Bytes(b []byte) Value { return Value{Kind: KindString, Str: append([]byte(nil), b...)} }

// Int constructs a KindInt value.
func Int(i int32) Value { return Value{Kind: KindInt, Int: i} }

// List constructs a KindList value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// NewDict constructs a KindDict value from a key/value map, canonicalizing
// key order immediately so every Value carrying KindDict is always sorted.
func NewDict(m map[string]Value) Value {
	entries := make(DictEntries, 0, len(m))
	for k, v := range m {
		entries = append(entries, DictEntry{Key: []byte(k), Val: v})
	}
	sortEntries(entries)
	return Value{Kind: KindDict, Dict: entries}
}

func sortEntries(entries DictEntries) {
	// insertion sort: dictionaries are small, and this avoids pulling in
	// sort.Slice's reflection-based comparator for a handful of entries.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && lessKey(entries[j].Key, entries[j-1].Key); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func lessKey(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// AsString returns v's raw bytes interpreted as text, if v is a KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return string(v.Str), true
}

// AsBytes returns v's raw bytes, if v is a KindString.
func (v Value) AsBytes() ([]byte, bool) {
	if v.Kind != KindString {
		return nil, false
	}
	return v.Str, true
}

// AsInt returns v's integer, if v is a KindInt.
func (v Value) AsInt() (int32, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// AsList returns v's items, if v is a KindList.
func (v Value) AsList() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// AsDict returns v's entries, if v is a KindDict.
func (v Value) AsDict() (DictEntries, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	return v.Dict, true
}

func (v Value) GoString() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("bencode.String(%q)", v.Str)
	case KindInt:
		return fmt.Sprintf("bencode.Int(%d)", v.Int)
	case KindList:
		return fmt.Sprintf("bencode.List(%d items)", len(v.List))
	case KindDict:
		return fmt.Sprintf("bencode.Dict(%d entries)", len(v.Dict))
	default:
		return "bencode.Value(invalid)"
	}
}
