package pdb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jtang613/gosyms/pkg/pdb"
)

func TestDemangle(t *testing.T) {
	tests := []struct {
		in   string
		want pdb.Demangled
		full string
	}{
		{
			in:   "?run@@YAXXZ",
			want: pdb.Demangled{Name: "run", Prototype: "void __cdecl(void)"},
			full: "void __cdecl run(void)",
		},
		{
			in:   "?Add@Calc@@QEAAHHH@Z",
			want: pdb.Demangled{Name: "Calc::Add", Prototype: "public: int __cdecl(int, int)"},
			full: "public: int __cdecl Calc::Add(int, int)",
		},
		{
			in:   "??0Widget@ui@@QEAA@XZ",
			want: pdb.Demangled{Name: "ui::Widget::Widget", Prototype: "public: __cdecl(void)"},
		},
		{
			in:   "??1Widget@ui@@UEAA@XZ",
			want: pdb.Demangled{Name: "ui::Widget::~Widget", Prototype: "public: virtual __cdecl(void)"},
		},
		{
			in:   "?Get@Store@@SAPEBDH@Z",
			want: pdb.Demangled{Name: "Store::Get", Prototype: "public: static char const* __cdecl(int)"},
		},
		{
			in:   "?g_count@@3HA",
			want: pdb.Demangled{Name: "g_count", Type: "int"},
			full: "int g_count",
		},
		{
			in:   "?copy@@YAXPEAUNode@@0@Z",
			want: pdb.Demangled{Name: "copy", Prototype: "void __cdecl(struct Node*, struct Node*)"},
		},
		{
			in:   "??HVec@@QEBA?AV0@AEBV0@@Z",
			want: pdb.Demangled{Name: "Vec::operator+", Prototype: "public: class Vec __cdecl(class Vec const&) const"},
		},
		{
			in:   "__imp_?run@@YAXXZ",
			want: pdb.Demangled{Name: "run", Prototype: "void __cdecl(void)", Import: true},
		},
		{in: "_WinMain@16", want: pdb.Demangled{Name: "WinMain"}},
		{in: "@fast@8", want: pdb.Demangled{Name: "fast"}},
		{in: "_plain", want: pdb.Demangled{Name: "plain"}},
		{in: "memcpy", want: pdb.Demangled{Name: "memcpy"}},
	}
	for _, tc := range tests {
		got := pdb.DemangleFull(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		if tc.full != "" {
			assert.Equal(t, tc.full, got.String(), tc.in)
		}
		assert.Equal(t, tc.want.Name, pdb.Demangle(tc.in), tc.in)
	}
}

func TestDemangleMalformed(t *testing.T) {
	assert.Equal(t, "?broken", pdb.Demangle("?broken"))
	assert.Equal(t, pdb.Demangled{Name: "x"}, pdb.DemangleFull("?x@@Y"))
	assert.Equal(t, pdb.Demangled{Name: "?9@@YAXXZ"}, pdb.DemangleFull("?9@@YAXXZ"))
}
