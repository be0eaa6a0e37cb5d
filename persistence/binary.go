package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"
)

// BinaryWriter writes artifact sections in little-endian binary form.
type BinaryWriter struct {
	w         io.Writer
	byteOrder binary.ByteOrder
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{
		w:         w,
		byteOrder: binary.LittleEndian, // Native on x86/ARM
	}
}

// WriteHeader writes the file header, stamping magic and version.
func (bw *BinaryWriter) WriteHeader(header *Header) error {
	header.Magic = MagicNumber
	header.Version = Version

	return binary.Write(bw.w, bw.byteOrder, header)
}

// WriteUint32 writes a single uint32.
func (bw *BinaryWriter) WriteUint32(v uint32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteUint64 writes a single uint64.
func (bw *BinaryWriter) WriteUint64(v uint64) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteBool writes a bool as one byte.
func (bw *BinaryWriter) WriteBool(v bool) error {
	var b uint8
	if v {
		b = 1
	}

	return binary.Write(bw.w, bw.byteOrder, b)
}

// WriteString writes a length-prefixed UTF-8 string.
func (bw *BinaryWriter) WriteString(s string) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}

	_, err := io.WriteString(bw.w, s)

	return err
}

// WriteFloat32Slice writes a float32 slice as raw bytes (zero-copy).
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}

	if err := validateFloat32SliceAlignment(vec); err != nil {
		return err
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)

	return err
}

// WriteInt64Slice writes an int64 slice as raw bytes (zero-copy).
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteInt64Slice(slice []int64) error {
	if len(slice) == 0 {
		return nil
	}

	if err := validateInt64SliceAlignment(slice); err != nil {
		return err
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*8)
	_, err := bw.w.Write(byteSlice)

	return err
}

// BinaryReader reads artifact sections from binary form.
type BinaryReader struct {
	r         io.Reader
	byteOrder binary.ByteOrder
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{
		r:         r,
		byteOrder: binary.LittleEndian,
	}
}

// ReadHeader reads and validates the file header.
func (br *BinaryReader) ReadHeader() (*Header, error) {
	var header Header
	if err := binary.Read(br.r, br.byteOrder, &header); err != nil {
		return nil, err
	}

	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}

	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}

	return &header, nil
}

// ReadUint32 reads a single uint32.
func (br *BinaryReader) ReadUint32() (uint32, error) {
	var v uint32
	err := binary.Read(br.r, br.byteOrder, &v)

	return v, err
}

// ReadUint64 reads a single uint64.
func (br *BinaryReader) ReadUint64() (uint64, error) {
	var v uint64
	err := binary.Read(br.r, br.byteOrder, &v)

	return v, err
}

// ReadBool reads a bool written by WriteBool.
func (br *BinaryReader) ReadBool() (bool, error) {
	var b uint8
	if err := binary.Read(br.r, br.byteOrder, &b); err != nil {
		return false, err
	}

	return b != 0, nil
}

// ReadString reads a length-prefixed UTF-8 string of at most maxLen
// bytes.
func (br *BinaryReader) ReadString(maxLen uint32) (string, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return "", err
	}

	if n > maxLen {
		return "", fmt.Errorf("%w: string length %d exceeds %d", ErrCorruptBody, n, maxLen)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

// ReadFloat32Slice reads a float32 slice of count elements.
func (br *BinaryReader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}

	vec := make([]float32, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), count*4)

	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}

	return vec, nil
}

// ReadInt64Slice reads an int64 slice of count elements.
func (br *BinaryReader) ReadInt64Slice(count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}

	slice := make([]int64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), count*8)

	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}

	return slice, nil
}

// SaveToFile writes a file atomically: the content goes to a temp file
// in the same directory, which is then renamed over the target.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Write to a temp file in the same directory to ensure rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// Match typical file permissions (best-effort).
	_ = tmp.Chmod(0644)

	// Use buffered writer to batch writes (critical for performance)
	buf := bufio.NewWriterSize(tmp, 256*1024) // 256KB buffer
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Atomically replace target.
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// LoadFromFile reads a file through a buffered reader.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024) // 256KB buffer
	return readFunc(buf)
}
