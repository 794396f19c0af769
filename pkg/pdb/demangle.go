package pdb

import (
	"strconv"
	"strings"
)

// Demangled is a decoded MSVC decorated name. Name is the qualified symbol
// name. Prototype is set for functions and reads like
// "void __cdecl(int, char const*)"; Type is set for data.
type Demangled struct {
	Name      string
	Prototype string
	Type      string
	Import    bool
}

// String renders the full declaration.
func (d Demangled) String() string {
	name := d.Name
	if d.Import {
		name = "__imp_" + name
	}
	switch {
	case d.Prototype != "":
		if i := strings.IndexByte(d.Prototype, '('); i >= 0 {
			return d.Prototype[:i] + " " + name + d.Prototype[i:]
		}
	case d.Type != "":
		return d.Type + " " + name
	}
	return name
}

// DemangleFull decodes C++ names starting with '?', the _name@N and
// @name@N decorations of stdcall and fastcall C functions, and the
// __imp_ prefix of import thunks. Undecodable names come back as Name.
func DemangleFull(name string) Demangled {
	if rest, ok := strings.CutPrefix(name, "__imp_"); ok && rest != "" {
		d := DemangleFull(rest)
		d.Import = true
		return d
	}
	switch {
	case strings.HasPrefix(name, "?"):
		if d, ok := demangleMSVC(name); ok {
			return d
		}
	case strings.HasPrefix(name, "_"), strings.HasPrefix(name, "@"):
		return Demangled{Name: undecorateC(name)}
	}
	return Demangled{Name: name}
}

// Demangle returns the qualified name of a decorated symbol, or name
// itself when it is not decorated.
func Demangle(name string) string {
	d := DemangleFull(name)
	if d.Name == "" {
		return name
	}
	return d.Name
}

// undecorateC strips the prefix and the argument byte count of C names.
func undecorateC(name string) string {
	s := name[1:]
	if i := strings.LastIndexByte(s, '@'); i > 0 {
		if _, err := strconv.ParseUint(s[i+1:], 10, 32); err == nil {
			s = s[:i]
		}
	}
	if s == "" {
		return name
	}
	return s
}

var operatorNames = map[string]string{
	"2": "operator new", "3": "operator delete", "4": "operator=",
	"5": "operator>>", "6": "operator<<", "7": "operator!",
	"8": "operator==", "9": "operator!=", "A": "operator[]",
	"C": "operator->", "D": "operator*", "E": "operator++",
	"F": "operator--", "G": "operator-", "H": "operator+",
	"I": "operator&", "J": "operator->*", "K": "operator/",
	"L": "operator%", "M": "operator<", "N": "operator<=",
	"O": "operator>", "P": "operator>=", "Q": "operator,",
	"R": "operator()", "S": "operator~", "T": "operator^",
	"U": "operator|", "V": "operator&&", "W": "operator||",
	"X": "operator*=", "Y": "operator+=", "Z": "operator-=",
	"_0": "operator/=", "_1": "operator%=", "_2": "operator>>=",
	"_3": "operator<<=", "_4": "operator&=", "_5": "operator|=",
	"_6": "operator^=", "_7": "`vftable'", "_8": "`vbtable'",
	"_9": "`vcall'", "_A": "`typeof'", "_B": "`local static guard'",
	"_D": "`vbase destructor'", "_E": "`vector deleting destructor'",
	"_F": "`default constructor closure'", "_G": "`scalar deleting destructor'",
	"_H": "`vector constructor iterator'", "_I": "`vector destructor iterator'",
	"_U": "operator new[]", "_V": "operator delete[]",
}

var basicTypes = map[byte]string{
	'C': "signed char", 'D': "char", 'E': "unsigned char",
	'F': "short", 'G': "unsigned short", 'H': "int",
	'I': "unsigned int", 'J': "long", 'K': "unsigned long",
	'M': "float", 'N': "double", 'O': "long double", 'X': "void",
}

var extendedTypes = map[byte]string{
	'J': "__int64", 'K': "unsigned __int64", 'N': "bool",
	'Q': "char8_t", 'S': "char16_t", 'U': "char32_t", 'W': "wchar_t",
}

var callingConventions = map[byte]string{
	'A': "__cdecl", 'C': "__pascal", 'E': "__thiscall", 'G': "__stdcall",
	'I': "__fastcall", 'M': "__clrcall", 'O': "__eabi", 'Q': "__vectorcall",
}

// memberAccess decodes the function class letters A-X: access in pairs of
// eight, then plain, static, virtual and thunk in pairs of two.
func memberAccess(c byte) (access string, static bool) {
	i := int(c - 'A')
	access = [...]string{"private", "protected", "public"}[i/8]
	switch (i % 8) / 2 {
	case 1:
		return access + ": static", true
	case 2, 3:
		return access + ": virtual", false
	}
	return access + ":", false
}

var cvQualifiers = map[byte]string{'A': "", 'B': " const", 'C': " volatile", 'D': " const volatile"}

type msvcDemangler struct {
	s     string
	pos   int
	names []string
	args  []string
	bad   bool
}

func demangleMSVC(name string) (Demangled, bool) {
	d := &msvcDemangler{s: name, pos: 1}
	qual := d.qualifiedName()
	if d.bad || qual == "" {
		return Demangled{}, false
	}
	out := Demangled{Name: qual}
	if d.eof() {
		return out, true
	}
	c := d.next()
	switch {
	case c == 'Y' || c == 'Z':
		out.Prototype = d.function("")
	case c >= 'A' && c <= 'X':
		access, static := memberAccess(c)
		this := ""
		if !static {
			d.accept('E')
			this = cvQualifiers[d.next()]
		}
		out.Prototype = access + " " + d.function(this)
	case c >= '0' && c <= '4':
		out.Type = d.typ()
		d.accept('E')
		out.Type += cvQualifiers[d.next()]
	case c == '6' || c == '7':
		out.Type = "const"
	}
	if d.bad {
		return Demangled{Name: qual}, true
	}
	out.Prototype = strings.TrimSpace(out.Prototype)
	return out, true
}

func (d *msvcDemangler) eof() bool { return d.pos >= len(d.s) }

func (d *msvcDemangler) peek() byte {
	if d.eof() {
		return 0
	}
	return d.s[d.pos]
}

func (d *msvcDemangler) next() byte {
	if d.eof() {
		d.bad = true
		return 0
	}
	c := d.s[d.pos]
	d.pos++
	return c
}

func (d *msvcDemangler) accept(c byte) bool {
	if d.peek() == c {
		d.pos++
		return true
	}
	return false
}

// fragment reads an '@' terminated identifier and remembers it for back
// references.
func (d *msvcDemangler) fragment() string {
	i := strings.IndexByte(d.s[d.pos:], '@')
	if i < 0 {
		d.bad = true
		return ""
	}
	f := d.s[d.pos : d.pos+i]
	d.pos += i + 1
	if len(d.names) < 10 {
		d.names = append(d.names, f)
	}
	return f
}

// qualifiedName reads name fragments up to the terminating '@'. Fragments
// are stored innermost first.
func (d *msvcDemangler) qualifiedName() string {
	var parts []string
	first := true
	for !d.bad && !d.eof() {
		c := d.peek()
		switch {
		case c == '@':
			d.pos++
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
			return fixStructors(parts)
		case c >= '0' && c <= '9':
			d.pos++
			if int(c-'0') >= len(d.names) {
				d.bad = true
				return ""
			}
			parts = append(parts, d.names[c-'0'])
		case c == '?' && first:
			d.pos++
			parts = append(parts, d.special())
		case c == '?' && d.pos+1 < len(d.s) && d.s[d.pos+1] == '$':
			d.pos += 2
			parts = append(parts, d.template())
		default:
			parts = append(parts, d.fragment())
		}
		first = false
	}
	d.bad = true
	return ""
}

// special decodes the operator code after a leading '?'.
func (d *msvcDemangler) special() string {
	c := d.next()
	switch c {
	case '0':
		return "\x00ctor"
	case '1':
		return "\x00dtor"
	case 'B':
		return "operator `cast'"
	case '$':
		return d.template()
	case '_':
		code := "_" + string(d.next())
		if op, ok := operatorNames[code]; ok {
			return op
		}
	default:
		if op, ok := operatorNames[string(c)]; ok {
			return op
		}
	}
	d.bad = true
	return ""
}

// fixStructors names constructors and destructors after their class.
func fixStructors(parts []string) string {
	for i, p := range parts {
		if i == 0 || !strings.HasPrefix(p, "\x00") {
			continue
		}
		class := parts[i-1]
		if j := strings.IndexByte(class, '<'); j >= 0 {
			class = class[:j]
		}
		if p == "\x00dtor" {
			parts[i] = "~" + class
		} else {
			parts[i] = class
		}
	}
	return strings.Join(parts, "::")
}

// template reads name@args@ of a template instantiation. Template
// arguments have their own back reference tables.
func (d *msvcDemangler) template() string {
	saveNames, saveArgs := d.names, d.args
	d.names, d.args = nil, nil
	name := d.fragment()
	var args []string
	for !d.bad && !d.accept('@') {
		if d.accept('$') {
			switch d.next() {
			case '0':
				args = append(args, strconv.FormatInt(d.number(), 10))
			default:
				d.bad = true
			}
			continue
		}
		args = append(args, d.argType())
	}
	d.names, d.args = saveNames, saveArgs
	full := name + "<" + strings.Join(args, ",") + ">"
	if len(d.names) < 10 {
		d.names = append(d.names, full)
	}
	return full
}

// number decodes the encoded integers of template arguments and array
// bounds: '?' negates, digits 0-9 mean 1-10, otherwise hex nibbles A-P
// terminated by '@'.
func (d *msvcDemangler) number() int64 {
	neg := d.accept('?')
	c := d.next()
	var v int64
	if c >= '0' && c <= '9' {
		v = int64(c-'0') + 1
	} else {
		for c != '@' && !d.bad {
			if c < 'A' || c > 'P' {
				d.bad = true
				break
			}
			v = v<<4 | int64(c-'A')
			c = d.next()
		}
	}
	if neg {
		return -v
	}
	return v
}

// callingConvention reads a convention letter. B, D, F and so on are the
// exported forms of the letter before them.
func (d *msvcDemangler) callingConvention() string {
	c := d.next()
	if c < 'A' {
		d.bad = true
		return ""
	}
	return callingConventions[(c-'A')&^1+'A']
}

// function decodes calling convention, return type and arguments.
func (d *msvcDemangler) function(this string) string {
	conv := d.callingConvention()
	ret := ""
	if !d.accept('@') {
		ret = d.typ()
	}
	args := d.argList()
	d.accept('Z')
	return strings.TrimSpace(ret+" "+conv) + "(" + args + ")" + this
}

func (d *msvcDemangler) argList() string {
	if d.accept('X') {
		return "void"
	}
	var args []string
	for !d.bad && !d.eof() {
		switch d.peek() {
		case '@':
			d.pos++
			return strings.Join(args, ", ")
		case 'Z':
			d.pos++
			return strings.Join(append(args, "..."), ", ")
		}
		args = append(args, d.argType())
	}
	return strings.Join(args, ", ")
}

// argType reads an argument type, resolving and recording argument back
// references. Only types longer than one letter are recorded.
func (d *msvcDemangler) argType() string {
	c := d.peek()
	if c >= '0' && c <= '9' {
		d.pos++
		if int(c-'0') >= len(d.args) {
			d.bad = true
			return ""
		}
		return d.args[c-'0']
	}
	start := d.pos
	t := d.typ()
	if d.pos-start > 1 && len(d.args) < 10 {
		d.args = append(d.args, t)
	}
	return t
}

func (d *msvcDemangler) typ() string {
	c := d.next()
	if t, ok := basicTypes[c]; ok {
		return t
	}
	switch c {
	case '_':
		if t, ok := extendedTypes[d.next()]; ok {
			return t
		}
	case 'P', 'Q', 'R', 'S':
		return d.pointer("*", cvQualifiers[c-'P'+'A'])
	case 'A':
		return d.pointer("&", "")
	case 'B':
		return d.pointer("&", " volatile")
	case 'T':
		return "union " + d.qualifiedName()
	case 'U':
		return "struct " + d.qualifiedName()
	case 'V':
		return "class " + d.qualifiedName()
	case 'W':
		d.next()
		return "enum " + d.qualifiedName()
	case '?':
		// Return values and template arguments carry a storage class.
		cv := cvQualifiers[d.next()]
		return d.typ() + cv
	case '$':
		if d.accept('$') {
			switch d.next() {
			case 'Q':
				return d.pointer("&&", "")
			case 'T':
				return "std::nullptr_t"
			}
		}
	}
	d.bad = true
	return ""
}

// pointer reads the pointee of a pointer or reference. self is the
// qualifier of the pointer itself.
func (d *msvcDemangler) pointer(op, self string) string {
	if d.accept('6') {
		conv := d.callingConvention()
		ret := d.typ()
		args := d.argList()
		d.accept('Z')
		return ret + " (" + conv + " " + op + ")(" + args + ")"
	}
	d.accept('E')
	cv := cvQualifiers[d.next()]
	return d.typ() + cv + op + self
}
