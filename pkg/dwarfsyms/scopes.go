package dwarfsyms

import (
	"debug/dwarf"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/go-delve/delve/pkg/dwarf/reader"
	"github.com/pkg/errors"
)

// Variable is a parameter or local variable of a procedure.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Param bool   `json:"param,omitempty"`
	// Depth counts the lexical blocks and inline sites enclosing the
	// variable inside its procedure.
	Depth    int         `json:"depth"`
	Inline   bool        `json:"inline,omitempty"`
	Location Location    `json:"location"`
	Scope    [][2]uint64 `json:"scope,omitempty"`
}

// InlineSite is an inlined call inside a procedure.
type InlineSite struct {
	Name     string      `json:"name"`
	Depth    int         `json:"depth"`
	Ranges   [][2]uint64 `json:"ranges"`
	CallFile string      `json:"call_file,omitempty"`
	CallLine int64       `json:"call_line,omitempty"`
}

// Contains reports whether pc lies in the site.
func (s InlineSite) Contains(pc uint64) bool {
	for _, r := range s.Ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

func (d *Data) tree(p Proc) (*godwarf.Tree, error) {
	t, err := godwarf.LoadTree(p.Offset, d.dw, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tree of %s", p.Name)
	}
	return t, nil
}

func (d *Data) treeName(t *godwarf.Tree) string {
	if name, ok := t.Val(dwarf.AttrName).(string); ok {
		return name
	}
	if off, ok := t.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
		if name, err := d.entryName(off); err == nil {
			return name
		}
	}
	return ""
}

func (d *Data) inlineSite(t *godwarf.Tree, depth int, files []*dwarf.LineFile) InlineSite {
	s := InlineSite{Name: d.treeName(t), Depth: depth, Ranges: t.Ranges}
	if f, ok := t.Val(dwarf.AttrCallFile).(int64); ok {
		s.CallFile = fileName(files, f)
	}
	s.CallLine, _ = t.Val(dwarf.AttrCallLine).(int64)
	return s
}

// Locals lists the parameters and variables of p in declaration order,
// descending into lexical blocks and inline sites.
func (d *Data) Locals(p Proc) ([]Variable, error) {
	t, err := d.tree(p)
	if err != nil {
		return nil, err
	}
	var out []Variable
	var walk func(n *godwarf.Tree, depth int, inline bool, scope [][2]uint64)
	walk = func(n *godwarf.Tree, depth int, inline bool, scope [][2]uint64) {
		for _, c := range n.Children {
			switch c.Tag {
			case dwarf.TagFormalParameter, dwarf.TagVariable:
				v := Variable{
					Name:   d.treeName(c),
					Param:  c.Tag == dwarf.TagFormalParameter,
					Depth:  depth,
					Inline: inline,
					Scope:  scope,
				}
				if off, ok := c.Val(dwarf.AttrType).(dwarf.Offset); ok {
					v.Type = d.typeName(off)
				}
				switch loc := c.Val(dwarf.AttrLocation).(type) {
				case []byte:
					v.Location = d.decodeLocation(loc, p.frameBase)
				case int64:
					// Location lists are not evaluated.
					v.Location = Location{Kind: LocationExpr}
				}
				if cv, ok := c.Val(dwarf.AttrConstValue).(int64); ok {
					v.Location = Location{Kind: LocationConst, Value: cv}
				}
				out = append(out, v)
			case dwarf.TagLexDwarfBlock:
				walk(c, depth+1, inline, c.Ranges)
			case dwarf.TagInlinedSubroutine:
				walk(c, depth+1, true, c.Ranges)
			}
		}
	}
	walk(t, 0, false, p.Ranges)
	return out, nil
}

// InlineSites lists the inline sites of p in pre-order.
func (d *Data) InlineSites(p Proc) ([]InlineSite, error) {
	t, err := d.tree(p)
	if err != nil {
		return nil, err
	}
	files := d.files(p.Unit)
	var out []InlineSite
	var walk func(n *godwarf.Tree, depth int)
	walk = func(n *godwarf.Tree, depth int) {
		for _, c := range n.Children {
			switch c.Tag {
			case dwarf.TagInlinedSubroutine:
				out = append(out, d.inlineSite(c, depth+1, files))
				walk(c, depth+1)
			case dwarf.TagLexDwarfBlock:
				walk(c, depth)
			}
		}
	}
	walk(t, 0)
	return out, nil
}

// InlineStack returns the inline sites containing pc, outermost first.
func (d *Data) InlineStack(pc uint64) ([]InlineSite, error) {
	p, ok := d.ProcForPC(pc)
	if !ok {
		return nil, nil
	}
	t, err := d.tree(p)
	if err != nil {
		return nil, err
	}
	files := d.files(p.Unit)
	var stack []*godwarf.Tree
	for _, n := range reader.InlineStack(t, pc) {
		if n.Tag == dwarf.TagInlinedSubroutine {
			stack = append(stack, n)
		}
	}
	// InlineStack lists the innermost call first.
	out := make([]InlineSite, len(stack))
	for i, n := range stack {
		out[len(stack)-1-i] = d.inlineSite(n, len(stack)-i, files)
	}
	return out, nil
}
