package syms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gosyms/pkg/regs"
	"github.com/jtang613/gosyms/pkg/syms"
)

func TestLoadPEImage(t *testing.T) {
	in := syms.New(syms.Options{})
	require.NoError(t, in.LoadImage(peFile(pdbGUID, 3)))
	img := in.Image()
	require.NotNil(t, img)
	assert.Equal(t, "pe", img.Format)
	assert.Equal(t, regs.ArchX64, img.Arch)
	assert.Equal(t, uint64(rebase), img.Base)
	assert.Equal(t, []syms.Section{{
		Index: 1,
		Name:  ".rdata",
		Range: syms.Range{Start: 0x2000, End: 0x2200},
	}}, img.Sections)
	assert.Equal(t, &syms.PDBReference{
		GUID: "76543210BA98FEDC0102030405060708",
		Age:  3,
		Path: `c:\build\app.pdb`,
	}, img.PDB)

	// Without debug information the image still answers.
	assert.Equal(t, regs.ArchX64, in.Arch())
	assert.Len(t, mustCollect(in.Sections(), nil), 1)
	assert.Equal(t, syms.FormatNone, in.Format())
}

func TestLoadELFImage(t *testing.T) {
	in := syms.New(syms.Options{})
	require.NoError(t, in.LoadImage(elfFile(buildID())))
	img := in.Image()
	require.NotNil(t, img)
	assert.Nil(t, img.PDB)
	assert.Equal(t, regs.ArchX64, img.Arch)

	names := map[string]bool{}
	for _, s := range img.Sections {
		names[s.Name] = s.Exec
	}
	assert.Equal(t, map[string]bool{".text": true, ".data": false, ".note.gnu.build-id": false}, names)
}
