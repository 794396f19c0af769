package dwarfsyms

import (
	"debug/dwarf"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/pkg/errors"
)

type typeEntry struct {
	name string
	tag  dwarf.Tag
	off  dwarf.Offset
}

// TypeInfo describes a named type.
type TypeInfo struct {
	Name    string       `json:"name"`
	Kind    string       `json:"kind"`
	Size    int64        `json:"size"`
	Offset  dwarf.Offset `json:"offset"`
	Members []Member     `json:"members,omitempty"`
}

// Member is a field of an aggregate or an enumerator.
type Member struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Offset   int64  `json:"offset"`
	Value    int64  `json:"value,omitempty"`
}

func isNamedType(tag dwarf.Tag) bool {
	switch tag {
	case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType,
		dwarf.TagEnumerationType, dwarf.TagTypedef, dwarf.TagBaseType:
		return true
	}
	return false
}

func (d *Data) addType(e *dwarf.Entry) {
	name, _ := e.Val(dwarf.AttrName).(string)
	if name == "" {
		return
	}
	if decl, _ := e.Val(dwarf.AttrDeclaration).(bool); decl {
		return
	}
	if _, ok := d.byType[name]; ok {
		return
	}
	d.byType[name] = len(d.types)
	d.types = append(d.types, typeEntry{name: name, tag: e.Tag, off: e.Offset})
}

// readType resolves the type at off with a per-call cache, leaving the
// shared dwarf.Data untouched.
func (d *Data) readType(off dwarf.Offset) (godwarf.Type, error) {
	return godwarf.ReadType(d.dw, 0, off, map[dwarf.Offset]godwarf.Type{})
}

func (d *Data) typeName(off dwarf.Offset) string {
	if off == 0 {
		return ""
	}
	t, err := d.readType(off)
	if err != nil {
		return ""
	}
	return t.String()
}

func tagKind(tag dwarf.Tag) string {
	switch tag {
	case dwarf.TagStructType:
		return "struct"
	case dwarf.TagClassType:
		return "class"
	case dwarf.TagUnionType:
		return "union"
	case dwarf.TagEnumerationType:
		return "enum"
	case dwarf.TagTypedef:
		return "typedef"
	case dwarf.TagBaseType:
		return "base"
	}
	return "unknown"
}

// TypeNames returns the names of all indexed types in section order.
func (d *Data) TypeNames() []string {
	out := make([]string, len(d.types))
	for i, t := range d.types {
		out[i] = t.name
	}
	return out
}

// FindType resolves a named type.
func (d *Data) FindType(name string) (*TypeInfo, bool) {
	i, ok := d.byType[name]
	if !ok {
		return nil, false
	}
	ti, err := d.typeInfo(d.types[i])
	if err != nil {
		return nil, false
	}
	return ti, true
}

func (d *Data) typeInfo(te typeEntry) (*TypeInfo, error) {
	t, err := d.readType(te.off)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read type %s", te.name)
	}
	ti := &TypeInfo{Name: te.name, Kind: tagKind(te.tag), Size: t.Size(), Offset: te.off}
	switch t := t.(type) {
	case *godwarf.StructType:
		for _, f := range t.Field {
			ti.Members = append(ti.Members, Member{
				Kind:     "data",
				Name:     f.Name,
				TypeName: f.Type.String(),
				Offset:   f.ByteOffset,
			})
		}
	case *godwarf.EnumType:
		for _, v := range t.Val {
			ti.Members = append(ti.Members, Member{Kind: "enumerate", Name: v.Name, Value: v.Val})
		}
	}
	return ti, nil
}
