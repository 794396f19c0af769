package regs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// File is a register file: one little-endian buffer holding every register
// of Arch at the offsets given by its descriptors.
type File struct {
	Arch Arch
	Buf  []byte
}

// NewFile returns a zeroed register file for arch.
func NewFile(arch Arch) *File {
	return &File{Arch: arch, Buf: make([]byte, FileSize(arch))}
}

// Clone returns an independent copy of f.
func (f *File) Clone() *File {
	return &File{Arch: f.Arch, Buf: append([]byte(nil), f.Buf...)}
}

func (f *File) descriptor(id ID) (Descriptor, error) {
	d, ok := Lookup(f.Arch, id)
	if !ok {
		if table(f.Arch) == nil {
			return d, errors.Wrapf(ErrUnknownArch, "arch %d", f.Arch)
		}
		return d, errors.Wrapf(ErrUnknownRegister, "%s register %d", f.Arch, id)
	}
	if int(d.Offset)+d.Bytes() > len(f.Buf) {
		return d, errors.Errorf("regs: register file of %d bytes too small for %s", len(f.Buf), d.Name)
	}
	return d, nil
}

// Get reads a register of at most 64 bits.
func (f *File) Get(id ID) (uint64, error) {
	d, err := f.descriptor(id)
	if err != nil {
		return 0, err
	}
	if d.Bytes() > 8 {
		return 0, errors.Wrapf(ErrValueTooWide, "%s is %d bits", d.Name, d.BitWidth)
	}
	var raw [8]byte
	copy(raw[:], f.Buf[d.Offset:int(d.Offset)+d.Bytes()])
	v := binary.LittleEndian.Uint64(raw[:]) >> d.BitOffset
	return v & mask(d.BitWidth), nil
}

// Set writes a register of at most 64 bits. Bits outside the register are
// preserved; a value wider than the register is rejected.
func (f *File) Set(id ID, v uint64) error {
	d, err := f.descriptor(id)
	if err != nil {
		return err
	}
	if d.Bytes() > 8 {
		return errors.Wrapf(ErrValueTooWide, "%s is %d bits", d.Name, d.BitWidth)
	}
	if v&^mask(d.BitWidth) != 0 {
		return errors.Wrapf(ErrValueTooWide, "0x%x into %s", v, d.Name)
	}
	n := d.Bytes()
	var raw [8]byte
	copy(raw[:], f.Buf[d.Offset:int(d.Offset)+n])
	word := binary.LittleEndian.Uint64(raw[:])
	m := mask(d.BitWidth) << d.BitOffset
	word = word&^m | v<<d.BitOffset
	binary.LittleEndian.PutUint64(raw[:], word)
	copy(f.Buf[d.Offset:], raw[:n])
	return nil
}

// GetBytes returns a copy of a byte-aligned register of any width, such as
// an x87 or vector register.
func (f *File) GetBytes(id ID) ([]byte, error) {
	d, err := f.descriptor(id)
	if err != nil {
		return nil, err
	}
	if d.BitOffset != 0 || d.BitWidth%8 != 0 {
		return nil, errors.Errorf("regs: %s is not byte aligned", d.Name)
	}
	return append([]byte(nil), f.Buf[d.Offset:int(d.Offset)+d.Bytes()]...), nil
}

// SetBytes overwrites a byte-aligned register. b must have exactly the
// register's width.
func (f *File) SetBytes(id ID, b []byte) error {
	d, err := f.descriptor(id)
	if err != nil {
		return err
	}
	if d.BitOffset != 0 || d.BitWidth%8 != 0 {
		return errors.Errorf("regs: %s is not byte aligned", d.Name)
	}
	if len(b) != d.Bytes() {
		return errors.Wrapf(ErrValueTooWide, "%d bytes into %s", len(b), d.Name)
	}
	copy(f.Buf[d.Offset:], b)
	return nil
}

func mask(width uint16) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}
