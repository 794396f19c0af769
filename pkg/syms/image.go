package syms

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/jtang613/gosyms/pkg/elfsyms"
	"github.com/jtang613/gosyms/pkg/regs"
)

const (
	peDebugDirectory = 6
	peDebugCodeView  = 2
	debugDirSize     = 28
)

var (
	mzMagic  = []byte("MZ")
	elfMagic = []byte(elf.ELFMAG)
	rsdsSig  = []byte("RSDS")
)

// PDBReference is the CodeView record of a PE image naming its PDB.
type PDBReference struct {
	GUID string `json:"guid"`
	Age  uint32 `json:"age"`
	Path string `json:"path"`
}

// Image describes the executable the debug information belongs to.
type Image struct {
	Format   string        `json:"format"`
	Arch     regs.Arch     `json:"arch"`
	Base     uint64        `json:"base"`
	Sections []Section     `json:"sections,omitempty"`
	PDB      *PDBReference `json:"pdb,omitempty"`
	BuildID  string        `json:"build_id,omitempty"`

	elf *elf.File
}

func parseImage(data []byte) (*Image, error) {
	switch {
	case bytes.HasPrefix(data, mzMagic):
		return parsePE(data)
	case bytes.HasPrefix(data, elfMagic):
		return parseELF(data)
	}
	return nil, errors.New("unrecognized image format")
}

func parsePE(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PE")
	}
	img := &Image{Format: "pe", Arch: regs.ArchFromMachine(f.Machine)}
	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.Base = uint64(oh.ImageBase)
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	case *pe.OptionalHeader64:
		img.Base = oh.ImageBase
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	}
	for i, s := range f.Sections {
		img.Sections = append(img.Sections, Section{
			Index: i + 1,
			Name:  s.Name,
			Range: Range{Start: uint64(s.VirtualAddress), End: uint64(s.VirtualAddress) + uint64(s.VirtualSize)},
			Exec:  s.Characteristics&(scnCntCode|scnMemExecute) != 0,
		})
	}
	if len(dirs) > peDebugDirectory {
		img.PDB = codeViewReference(f, dirs[peDebugDirectory])
	}
	return img, nil
}

// rvaData returns the bytes of f at rva, limited to size.
func rvaData(f *pe.File, rva, size uint32) ([]byte, bool) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress || rva-s.VirtualAddress >= s.VirtualSize {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, false
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(size) > uint64(len(data)) {
			return nil, false
		}
		return data[off : off+size], true
	}
	return nil, false
}

func codeViewReference(f *pe.File, dir pe.DataDirectory) *PDBReference {
	dd, ok := rvaData(f, dir.VirtualAddress, dir.Size)
	if !ok {
		return nil
	}
	for ; len(dd) >= debugDirSize; dd = dd[debugDirSize:] {
		if binary.LittleEndian.Uint32(dd[12:]) != peDebugCodeView {
			continue
		}
		size := binary.LittleEndian.Uint32(dd[16:])
		rec, ok := rvaData(f, binary.LittleEndian.Uint32(dd[20:]), size)
		if !ok || len(rec) < 24 || !bytes.HasPrefix(rec, rsdsSig) {
			continue
		}
		g := rec[4:20]
		path := rec[24:]
		if i := bytes.IndexByte(path, 0); i >= 0 {
			path = path[:i]
		}
		return &PDBReference{
			GUID: fmt.Sprintf("%08X%04X%04X%X",
				binary.LittleEndian.Uint32(g[0:4]),
				binary.LittleEndian.Uint16(g[4:6]),
				binary.LittleEndian.Uint16(g[6:8]),
				g[8:16]),
			Age:  binary.LittleEndian.Uint32(rec[20:]),
			Path: string(path),
		}
	}
	return nil
}

func parseELF(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ELF")
	}
	img := &Image{Format: "elf", Arch: regs.ArchFromELF(uint16(f.Machine)), elf: f}
	for i, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		img.Sections = append(img.Sections, Section{
			Index: i,
			Name:  s.Name,
			Range: Range{Start: s.Addr, End: s.Addr + s.Size},
			Exec:  s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			img.Base = p.Vaddr - p.Off
			break
		}
	}
	if id, err := elfsyms.GNUBuildID(f); err == nil {
		img.BuildID = id
	}
	return img, nil
}
