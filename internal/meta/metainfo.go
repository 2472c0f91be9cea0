// Package meta interprets a decoded bencode document as a torrent
// descriptor and derives its info-hash.
package meta

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/corvid-dev/leech/pkg/bencode"
)

// Metainfo is a parsed torrent descriptor.
type Metainfo struct {
	Info         *Info
	Announce     string
	AnnounceList [][]string
	CreationDate time.Time
	CreatedBy    string
	Comment      string
	Encoding     string
	InfoHash     [sha1.Size]byte
}

// Info is the `info` sub-document: either single-file (Length >= 0, Files
// nil) or multi-file (Files non-empty, Length 0).
type Info struct {
	Name        string
	PieceLength int32
	Pieces      [][sha1.Size]byte
	Private     bool
	Length      int64
	Files       []*File
}

// File is one entry of a multi-file torrent's file list.
type File struct {
	Length int64
	Path   []string
}

var (
	ErrTopLevelNotDict     = errors.New("metainfo: top-level is not a dict")
	ErrAnnounceMissing     = errors.New("metainfo: 'announce' missing")
	ErrInfoMissing         = errors.New("metainfo: 'info' missing")
	ErrInfoNotDict         = errors.New("metainfo: 'info' is not a dict")
	ErrNameMissing         = errors.New("metainfo: 'info' name missing")
	ErrPieceLenMissing     = errors.New("metainfo: 'info' piece length missing")
	ErrPieceLenNonPositive = errors.New("metainfo: 'info' piece length must be > 0")
	ErrPiecesMissing       = errors.New("metainfo: 'info' pieces missing")
	ErrPiecesLenInvalid    = errors.New("metainfo: 'info' pieces length not a multiple of 20")
	ErrLayoutInvalid       = errors.New("metainfo: invalid single/multi-file layout")
	ErrCreationDateInvalid = errors.New("metainfo: invalid creation date")
)

// Size returns the torrent's total content length across all files.
func (m *Metainfo) Size() int64 {
	if m.Info.Length > 0 {
		return m.Info.Length
	}

	var sum int64
	for _, f := range m.Info.Files {
		sum += f.Length
	}
	return sum
}

// ParseMetainfo decodes data as a bencoded dictionary and extracts a
// Metainfo from it, including the info-hash derived by re-encoding the
// `info` sub-document and hashing it with SHA-1.
func ParseMetainfo(data []byte) (*Metainfo, error) {
	root, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	rootDict, ok := root.AsDict()
	if !ok {
		return nil, ErrTopLevelNotDict
	}

	announce, err := optionalString(rootDict, "announce")
	if err != nil {
		return nil, err
	}
	announceList, err := parseAnnounceList(rootDict)
	if err != nil {
		return nil, err
	}
	if announce == "" && len(announceList) == 0 {
		return nil, ErrAnnounceMissing
	}

	var creationDate time.Time
	if v, ok := rootDict.Get("creation date"); ok {
		secs, ok := v.AsInt()
		if !ok || secs < 0 {
			return nil, ErrCreationDateInvalid
		}
		creationDate = time.Unix(int64(secs), 0).UTC()
	}

	createdBy, err := optionalString(rootDict, "created by")
	if err != nil {
		return nil, err
	}
	comment, err := optionalString(rootDict, "comment")
	if err != nil {
		return nil, err
	}
	encoding, err := optionalString(rootDict, "encoding")
	if err != nil {
		return nil, err
	}

	infoVal, ok := rootDict.Get("info")
	if !ok {
		return nil, ErrInfoMissing
	}
	infoDict, ok := infoVal.AsDict()
	if !ok {
		return nil, ErrInfoNotDict
	}

	info, err := parseInfo(infoDict)
	if err != nil {
		return nil, err
	}

	hash := sha1.Sum(bencode.Marshal(infoVal))

	return &Metainfo{
		Info:         info,
		InfoHash:     hash,
		Announce:     announce,
		AnnounceList: announceList,
		CreationDate: creationDate,
		CreatedBy:    createdBy,
		Comment:      comment,
		Encoding:     encoding,
	}, nil
}

func parseInfo(dict bencode.DictEntries) (*Info, error) {
	var (
		out Info
		ok  bool
	)

	nameVal, present := dict.Get("name")
	if !present {
		return nil, ErrNameMissing
	}
	out.Name, ok = nameVal.AsString()
	if !ok || out.Name == "" {
		return nil, fmt.Errorf("%w: not a non-empty string", ErrNameMissing)
	}

	plVal, present := dict.Get("piece length")
	if !present {
		return nil, ErrPieceLenMissing
	}
	plen, ok := plVal.AsInt()
	if !ok || plen <= 0 {
		return nil, ErrPieceLenNonPositive
	}
	out.PieceLength = plen

	piecesVal, present := dict.Get("pieces")
	if !present {
		return nil, ErrPiecesMissing
	}
	pieceBytes, ok := piecesVal.AsBytes()
	if !ok {
		return nil, ErrPiecesMissing
	}
	pieces, err := parsePieces(pieceBytes)
	if err != nil {
		return nil, err
	}
	out.Pieces = pieces

	if v, present := dict.Get("private"); present {
		n, ok := v.AsInt()
		if !ok || (n != 0 && n != 1) {
			return nil, fmt.Errorf("metainfo: invalid 'private' flag")
		}
		out.Private = n == 1
	}

	lengthVal, hasLength := dict.Get("length")
	filesVal, hasFiles := dict.Get("files")

	switch {
	case hasLength && !hasFiles:
		length, ok := lengthVal.AsInt()
		if !ok || length < 0 {
			return nil, fmt.Errorf("metainfo: invalid 'length'")
		}
		out.Length = int64(length)

	case hasFiles && !hasLength:
		files, err := parseFiles(filesVal)
		if err != nil {
			return nil, err
		}
		out.Files = files

	default:
		return nil, ErrLayoutInvalid
	}

	return &out, nil
}

func parseFiles(v bencode.Value) ([]*File, error) {
	arr, ok := v.AsList()
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("metainfo: invalid or empty 'files'")
	}

	files := make([]*File, 0, len(arr))
	for i, item := range arr {
		dict, ok := item.AsDict()
		if !ok {
			return nil, fmt.Errorf("metainfo: files[%d]: not a dict", i)
		}

		lenVal, present := dict.Get("length")
		if !present {
			return nil, fmt.Errorf("metainfo: files[%d]: length missing", i)
		}
		length, ok := lenVal.AsInt()
		if !ok || length < 0 {
			return nil, fmt.Errorf("metainfo: files[%d]: invalid length", i)
		}

		pathVal, present := dict.Get("path")
		if !present {
			return nil, fmt.Errorf("metainfo: files[%d]: path missing", i)
		}
		segments, err := stringList(pathVal)
		if err != nil || len(segments) == 0 {
			return nil, fmt.Errorf("metainfo: files[%d]: invalid path", i)
		}

		files = append(files, &File{Length: int64(length), Path: segments})
	}

	return files, nil
}

func parseAnnounceList(dict bencode.DictEntries) ([][]string, error) {
	v, present := dict.Get("announce-list")
	if !present {
		return nil, nil
	}
	tiers, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("metainfo: invalid 'announce-list'")
	}

	out := make([][]string, 0, len(tiers))
	for i, tierVal := range tiers {
		tier, err := stringList(tierVal)
		if err != nil {
			return nil, fmt.Errorf("metainfo: announce-list[%d]: %w", i, err)
		}
		if len(tier) > 0 {
			out = append(out, tier)
		}
	}
	return out, nil
}

func stringList(v bencode.Value) ([]string, error) {
	items, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("not a list")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, fmt.Errorf("list entry is not a byte-string")
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(dict bencode.DictEntries, key string) (string, error) {
	v, present := dict.Get(key)
	if !present {
		return "", nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("metainfo: %q is not a byte-string", key)
	}
	return s, nil
}

func parsePieces(raw []byte) ([][sha1.Size]byte, error) {
	if len(raw)%sha1.Size != 0 {
		return nil, ErrPiecesLenInvalid
	}

	n := len(raw) / sha1.Size
	out := make([][sha1.Size]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], raw[i*sha1.Size:(i+1)*sha1.Size])
	}
	return out, nil
}
