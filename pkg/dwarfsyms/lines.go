package dwarfsyms

import (
	"debug/dwarf"
	"io"

	"github.com/pkg/errors"
)

// Line is one row of a unit's line table. An End row closes a sequence.
type Line struct {
	Address   uint64 `json:"address"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	Statement bool   `json:"statement,omitempty"`
	End       bool   `json:"end,omitempty"`
}

// Lines decodes the line table of unit in program order. Units without a
// line program return no rows.
func (d *Data) Lines(unit int) ([]Line, error) {
	u, err := d.Unit(unit)
	if err != nil {
		return nil, err
	}
	lr, err := d.dw.LineReader(u.entry)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open line table of unit %d", unit)
	}
	if lr == nil {
		return nil, nil
	}
	var out []Line
	for {
		var le dwarf.LineEntry
		if err := lr.Next(&le); err != nil {
			if err == io.EOF {
				break
			}
			return out, errors.Wrapf(err, "failed to read line table of unit %d", unit)
		}
		l := Line{Address: le.Address, End: le.EndSequence}
		if !le.EndSequence {
			l.Line, l.Column, l.Statement = le.Line, le.Column, le.IsStmt
			if le.File != nil {
				l.File = le.File.Name
			}
		}
		out = append(out, l)
	}
	return out, nil
}

// files returns the file table of unit, indexed as call_file and
// decl_file attributes index it.
func (d *Data) files(unit int) []*dwarf.LineFile {
	u, err := d.Unit(unit)
	if err != nil {
		return nil
	}
	lr, err := d.dw.LineReader(u.entry)
	if err != nil || lr == nil {
		return nil
	}
	return lr.Files()
}

func fileName(files []*dwarf.LineFile, idx int64) string {
	if idx < 0 || idx >= int64(len(files)) || files[idx] == nil {
		return ""
	}
	return files[idx].Name
}
