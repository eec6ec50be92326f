// Package bundle encodes and decodes the split bundle footer described in
// spec.md §6: a concatenation of file bodies followed by a hot cache blob,
// a metadata blob, and a fixed 12-byte trailer naming the two blobs'
// lengths and a format version. Readers fetch the trailing 12 bytes first,
// then use it to range-fetch the hot cache and metadata without touching
// the file bodies.
//
// Encoding style (explicit big-endian binary.Write calls rather than a
// struct tag based codec) follows the teacher's wire-format packages
// (secondary/protobuf and secondary/dataport use explicit length-prefixed
// framing over raw byte slices rather than reflection-driven codecs).
package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FormatVersion is the only bundle format this package writes or accepts,
// per spec.md §9's instruction to target only the bundle+hotcache format.
const FormatVersion uint32 = 1

// footerSize is the fixed trailer: metadata_len, hotcache_len, format_version,
// each a big-endian uint32.
const footerSize = 12

// File is one named file body to be concatenated into the bundle, in the
// order given to Encode.
type File struct {
	Name string
	Body []byte
}

// Footer is the decoded form of a bundle's trailing 12 bytes plus the
// offsets needed to range-fetch the hot cache and metadata blobs that
// precede it.
type Footer struct {
	FormatVersion uint32
	// HotcacheStart/HotcacheEnd and MetadataStart/MetadataEnd are byte
	// offsets within the full bundle object.
	HotcacheStart, HotcacheEnd   uint64
	MetadataStart, MetadataEnd   uint64
}

// Encode concatenates files, then hotcache, then metadata, then the 12-byte
// footer, returning the full bundle bytes and the Footer describing where
// the hot cache and metadata blobs landed (for populating
// SplitMetadata.FooterOffsets: Start is the offset of the footer itself,
// i.e. len(bundle)-footerSize, End is len(bundle)).
func Encode(files []File, hotcache, metadata []byte) ([]byte, Footer, error) {
	var buf bytes.Buffer
	for _, f := range files {
		if _, err := buf.Write(f.Body); err != nil {
			return nil, Footer{}, fmt.Errorf("bundle: write file %q: %w", f.Name, err)
		}
	}
	hotcacheStart := uint64(buf.Len())
	if _, err := buf.Write(hotcache); err != nil {
		return nil, Footer{}, fmt.Errorf("bundle: write hotcache: %w", err)
	}
	hotcacheEnd := uint64(buf.Len())

	metadataStart := uint64(buf.Len())
	if _, err := buf.Write(metadata); err != nil {
		return nil, Footer{}, fmt.Errorf("bundle: write metadata: %w", err)
	}
	metadataEnd := uint64(buf.Len())

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(metadata))); err != nil {
		return nil, Footer{}, fmt.Errorf("bundle: write metadata_len: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(hotcache))); err != nil {
		return nil, Footer{}, fmt.Errorf("bundle: write hotcache_len: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, FormatVersion); err != nil {
		return nil, Footer{}, fmt.Errorf("bundle: write format_version: %w", err)
	}

	footer := Footer{
		FormatVersion: FormatVersion,
		HotcacheStart: hotcacheStart,
		HotcacheEnd:   hotcacheEnd,
		MetadataStart: metadataStart,
		MetadataEnd:   metadataEnd,
	}
	return buf.Bytes(), footer, nil
}

// DecodeTrailer parses the fixed 12-byte trailer of a bundle whose total
// size is bundleSize. The caller is expected to have fetched exactly these
// 12 bytes (e.g. via a storage range-get of [bundleSize-12, bundleSize)).
func DecodeTrailer(trailer []byte, bundleSize uint64) (Footer, error) {
	if len(trailer) != footerSize {
		return Footer{}, fmt.Errorf("bundle: trailer must be exactly %d bytes, got %d", footerSize, len(trailer))
	}
	r := bytes.NewReader(trailer)
	var metadataLen, hotcacheLen, formatVersion uint32
	if err := binary.Read(r, binary.BigEndian, &metadataLen); err != nil {
		return Footer{}, fmt.Errorf("bundle: read metadata_len: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &hotcacheLen); err != nil {
		return Footer{}, fmt.Errorf("bundle: read hotcache_len: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &formatVersion); err != nil {
		return Footer{}, fmt.Errorf("bundle: read format_version: %w", err)
	}
	if formatVersion != FormatVersion {
		return Footer{}, fmt.Errorf("bundle: unsupported format_version %d, only %d is supported", formatVersion, FormatVersion)
	}
	if bundleSize < footerSize+uint64(metadataLen)+uint64(hotcacheLen) {
		return Footer{}, fmt.Errorf("bundle: declared blob lengths (%d metadata + %d hotcache) exceed bundle size %d", metadataLen, hotcacheLen, bundleSize)
	}

	metadataEnd := bundleSize - footerSize
	metadataStart := metadataEnd - uint64(metadataLen)
	hotcacheEnd := metadataStart
	hotcacheStart := hotcacheEnd - uint64(hotcacheLen)

	return Footer{
		FormatVersion: formatVersion,
		HotcacheStart: hotcacheStart,
		HotcacheEnd:   hotcacheEnd,
		MetadataStart: metadataStart,
		MetadataEnd:   metadataEnd,
	}, nil
}

// ReadHotcache and ReadMetadata slice a full in-memory bundle using a
// previously decoded Footer. Callers fetching ranges directly from object
// storage instead use Footer's offsets to issue their own range-gets; these
// helpers exist for tests and for small/local bundles.
func ReadHotcache(bundle []byte, f Footer) ([]byte, error) {
	return sliceRange(bundle, f.HotcacheStart, f.HotcacheEnd)
}

func ReadMetadata(bundle []byte, f Footer) ([]byte, error) {
	return sliceRange(bundle, f.MetadataStart, f.MetadataEnd)
}

func sliceRange(buf []byte, start, end uint64) ([]byte, error) {
	if end < start || end > uint64(len(buf)) {
		return nil, fmt.Errorf("bundle: range [%d,%d) out of bounds for buffer of length %d", start, end, len(buf))
	}
	return buf[start:end], nil
}
