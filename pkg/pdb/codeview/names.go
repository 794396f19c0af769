package codeview

import (
	"fmt"
	"strings"
)

// TypeName renders ti as a C declaration-style string such as
// "const char*" or "int (int, float)".
func TypeName(src TypeSource, ti TypeIndex) string {
	return typeName(src, ti, 0)
}

func typeName(src TypeSource, ti TypeIndex, depth int) string {
	if depth > maxResolveDepth {
		return "..."
	}
	t, err := Normalize(src, ti)
	if err != nil {
		return fmt.Sprintf("type_0x%x", uint32(ti))
	}

	var s string
	switch t.Kind {
	case KindPointer:
		if ti < TypeIndexBegin {
			return t.Name
		}
		s = typeName(src, t.Next, depth+1)
		switch {
		case t.Modifiers&ModRRef != 0:
			s += "&&"
		case t.Modifiers&ModLRef != 0:
			s += "&"
		case t.PointerMode == PtrModeDataMember || t.PointerMode == PtrModeMemberFunc:
			s += " " + typeName(src, t.MemberClass, depth+1) + "::*"
		default:
			s += "*"
		}
		if t.Modifiers&ModConst != 0 {
			s += " const"
		}
		if t.Modifiers&ModVolatile != 0 {
			s += " volatile"
		}
		if t.Modifiers&ModRestrict != 0 {
			s += " __restrict"
		}
		return s

	case KindArray:
		if t.Count > 0 {
			return fmt.Sprintf("%s[%d]", typeName(src, t.Next, depth+1), t.Count)
		}
		return typeName(src, t.Next, depth+1) + "[]"

	case KindProc:
		s = fmt.Sprintf("%s (%s)", typeName(src, t.Next, depth+1), argListName(src, t.ArgList, depth+1))

	case KindMethod:
		s = fmt.Sprintf("%s %s::(%s)", typeName(src, t.Next, depth+1), typeName(src, t.Class, depth+1), argListName(src, t.ArgList, depth+1))

	case KindArgList:
		return argListName(src, ti, depth)

	case KindBitfield:
		return fmt.Sprintf("%s : %d", typeName(src, t.Next, depth+1), t.BitLength)

	case KindStruct, KindClass, KindInterface, KindUnion, KindEnum:
		s = t.Name
		if s == "" {
			s = "<unnamed " + t.Kind.String() + ">"
		}

	case KindFuncID, KindMFuncID, KindStringID:
		s = t.Name

	default:
		if t.Name != "" {
			s = t.Name
		} else {
			s = fmt.Sprintf("<%s 0x%x>", t.Kind, uint32(ti))
		}
	}

	if t.Modifiers&ModVolatile != 0 {
		s = "volatile " + s
	}
	if t.Modifiers&ModConst != 0 {
		s = "const " + s
	}
	return s
}

func argListName(src TypeSource, ti TypeIndex, depth int) string {
	if ti == 0 {
		return ""
	}
	t, err := Normalize(src, ti)
	if err != nil || t.Kind != KindArgList {
		return "?"
	}
	if len(t.Args) == 0 {
		return "void"
	}
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		if a == 0 {
			args[i] = "..."
			continue
		}
		args[i] = typeName(src, a, depth+1)
	}
	return strings.Join(args, ", ")
}
