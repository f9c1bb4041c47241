package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout (little endian):
//
//	magic    [4]byte "CRV1"
//	dim      uint32
//	count    uint32
//	labelLen uint16, label []byte
//	data     count*dim float32
//	crc      uint32 (IEEE, over everything above)
var indexMagic = [4]byte{'C', 'R', 'V', '1'}

// Save writes the index to path atomically (temp file + rename). label is an opaque
// identifier stored in the header; shards use their date key.
func (f *FlatIndex) Save(path, label string) error {
	if len(label) > math.MaxUint16 {
		return fmt.Errorf("label too long: %d bytes", len(label))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := f.writeTo(file, label); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (f *FlatIndex) writeTo(w io.Writer, label string) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))
	if _, err := bw.Write(indexMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	count := len(f.data) / f.dimensions
	header := []any{uint32(f.dimensions), uint32(count), uint16(len(label))}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := bw.WriteString(label); err != nil {
		return fmt.Errorf("write label: %w", err)
	}
	if _, err := bw.Write(float32SliceToBytes(f.data)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// LoadFlatIndex reads an index written by Save and returns it with its stored label.
// Any structural problem (bad magic, short read, checksum mismatch) wraps ErrCorruptIndex.
// A missing file is returned as the underlying os error so callers can test os.IsNotExist.
func LoadFlatIndex(path string) (*FlatIndex, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	const fixed = 4 + 4 + 4 + 2
	if len(raw) < fixed+4 {
		return nil, "", fmt.Errorf("%w: file too short (%d bytes)", ErrCorruptIndex, len(raw))
	}
	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(trailer); got != want {
		return nil, "", fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}
	if !bytes.Equal(body[:4], indexMagic[:]) {
		return nil, "", fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, body[:4])
	}
	dim := int(binary.LittleEndian.Uint32(body[4:8]))
	count := int(binary.LittleEndian.Uint32(body[8:12]))
	labelLen := int(binary.LittleEndian.Uint16(body[12:14]))
	if dim <= 0 {
		return nil, "", fmt.Errorf("%w: invalid dimension %d", ErrCorruptIndex, dim)
	}
	rest := body[fixed:]
	if len(rest) < labelLen {
		return nil, "", fmt.Errorf("%w: truncated label", ErrCorruptIndex)
	}
	label := string(rest[:labelLen])
	rest = rest[labelLen:]
	if len(rest) != count*dim*4 {
		return nil, "", fmt.Errorf("%w: expected %d vector bytes, found %d", ErrCorruptIndex, count*dim*4, len(rest))
	}
	return &FlatIndex{dimensions: dim, data: bytesToFloat32Slice(rest)}, label, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
