package jvmtiasm

import (
	"fmt"
	"regexp"
	"strings"
)

// typeTokenRE matches one JVM type descriptor token: a primitive code or an
// object reference, with any number of array dimension prefixes.
var typeTokenRE = regexp.MustCompile(`\[*(?:[VIJFDSCBZ]|L[^;]+;)`)

var primitiveTypes = map[byte]string{
	'I': "int",
	'J': "long",
	'V': "void",
	'F': "float",
	'D': "double",
	'S': "short",
	'C': "char",
	'B': "byte",
	'Z': "boolean",
}

// LineEntry maps a code offset to a source line number. Line tables are
// decoded and retained but not consumed by any analysis here.
type LineEntry struct {
	Offset uint64
	Line   int32
}

// Method is a Java method decoded from a trace's method-load record.
// Immutable once constructed.
type Method struct {
	ClassName  string // dotted, e.g. "java.lang.String"
	MethodName string
	Arguments  string // decoded argument list without parentheses, e.g. "int, long"
	ReturnType string
	SourceFile string
	LineTable  []LineEntry
}

// QualifiedName returns the fully qualified name without arguments,
// e.g. "java.lang.String.hashCode".
func (m *Method) QualifiedName() string {
	return m.ClassName + "." + m.MethodName
}

// Signature returns the fully qualified name with the decoded argument
// list, e.g. "java.lang.String.indexOf(int, int)".
func (m *Method) Signature() string {
	return m.QualifiedName() + "(" + m.Arguments + ")"
}

// decodeClassSignature turns "Ljava/lang/String;" into "java.lang.String".
// Any other form is a format error.
func decodeClassSignature(sig string) (string, error) {
	if len(sig) < 2 || sig[0] != 'L' || sig[len(sig)-1] != ';' {
		return "", fmt.Errorf("bad class signature %q", sig)
	}
	return strings.ReplaceAll(sig[1:len(sig)-1], "/", "."), nil
}

// decodeType turns one descriptor token into a Java source form:
// "I" -> "int", "[[J" -> "long[][]", "Lfoo/Bar;" -> "foo.Bar".
func decodeType(token string) (string, error) {
	dims := 0
	for dims < len(token) && token[dims] == '[' {
		dims++
	}
	base := token[dims:]
	var decoded string
	if len(base) == 1 {
		decoded = primitiveTypes[base[0]]
		if decoded == "" {
			return "", fmt.Errorf("bad type code %q", token)
		}
	} else {
		var err error
		decoded, err = decodeClassSignature(base)
		if err != nil {
			return "", err
		}
	}
	return decoded + strings.Repeat("[]", dims), nil
}

// decodeDescriptor splits a JVM method descriptor "(<args>)<return>" into a
// comma-separated argument list and the return type.
func decodeDescriptor(desc string) (args, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return "", "", fmt.Errorf("bad method descriptor %q", desc)
	}
	rparen := strings.IndexByte(desc, ')')
	if rparen < 0 || rparen == len(desc)-1 {
		return "", "", fmt.Errorf("bad method descriptor %q", desc)
	}
	argPart := desc[1:rparen]
	tokens := typeTokenRE.FindAllString(argPart, -1)
	if strings.Join(tokens, "") != argPart {
		return "", "", fmt.Errorf("bad argument types in descriptor %q", desc)
	}
	decoded := make([]string, len(tokens))
	for i, tok := range tokens {
		if decoded[i], err = decodeType(tok); err != nil {
			return "", "", fmt.Errorf("descriptor %q: %w", desc, err)
		}
	}
	if ret, err = decodeType(desc[rparen+1:]); err != nil {
		return "", "", fmt.Errorf("descriptor %q: %w", desc, err)
	}
	return strings.Join(decoded, ", "), ret, nil
}

// DebugFrame is one frame of the inlined call stack live at a program point.
type DebugFrame struct {
	Method *Method
	BCI    int32 // bytecode index within Method
}

func (f *DebugFrame) String() string {
	return fmt.Sprintf("%s:%d", f.Method.QualifiedName(), f.BCI)
}

// DebugInfo describes one program point inside a code region: the absolute
// program counter and the inlined frames live there, innermost first.
type DebugInfo struct {
	PC     uint64
	Frames []*DebugFrame
}
