package heap

import (
	"encoding/binary"
	"fmt"

	wasmffi "github.com/wippyai/wasm-ffi"
)

// Bytes is a slice-backed Memory. It is used for host-only heaps and tests.
type Bytes []byte

var (
	_ wasmffi.Memory      = Bytes(nil)
	_ wasmffi.MemorySizer = Bytes(nil)
)

// NewBytes returns a zeroed memory of size bytes.
func NewBytes(size uint32) Bytes {
	return make(Bytes, size)
}

func (b Bytes) check(offset, n uint32) error {
	if uint64(offset)+uint64(n) > uint64(len(b)) {
		return fmt.Errorf("memory access out of bounds: offset=%d, length=%d", offset, n)
	}
	return nil
}

// Size returns the memory size in bytes.
func (b Bytes) Size() uint32 {
	return uint32(len(b))
}

// Read returns a copy of length bytes at offset.
func (b Bytes) Read(offset uint32, length uint32) ([]byte, error) {
	if err := b.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b[offset:])
	return out, nil
}

// Write writes data at offset.
func (b Bytes) Write(offset uint32, data []byte) error {
	if err := b.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(b[offset:], data)
	return nil
}

func (b Bytes) ReadU8(offset uint32) (uint8, error) {
	if err := b.check(offset, 1); err != nil {
		return 0, err
	}
	return b[offset], nil
}

func (b Bytes) ReadU16(offset uint32) (uint16, error) {
	if err := b.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[offset:]), nil
}

func (b Bytes) ReadU32(offset uint32) (uint32, error) {
	if err := b.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[offset:]), nil
}

func (b Bytes) ReadU64(offset uint32) (uint64, error) {
	if err := b.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[offset:]), nil
}

func (b Bytes) WriteU8(offset uint32, value uint8) error {
	if err := b.check(offset, 1); err != nil {
		return err
	}
	b[offset] = value
	return nil
}

func (b Bytes) WriteU16(offset uint32, value uint16) error {
	if err := b.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[offset:], value)
	return nil
}

func (b Bytes) WriteU32(offset uint32, value uint32) error {
	if err := b.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[offset:], value)
	return nil
}

func (b Bytes) WriteU64(offset uint32, value uint64) error {
	if err := b.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b[offset:], value)
	return nil
}
