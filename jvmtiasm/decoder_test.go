package jvmtiasm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTrace(t *testing.T, build func(w *Writer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Header("amd64", 100, 500000000, 42)
	build(w)
	w.Flush()
	require.NoError(t, w.Err())
	return buf.Bytes()
}

func decodeTrace(t *testing.T, build func(w *Writer)) *Assembly {
	t.Helper()
	asm, err := Decode(bytes.NewReader(encodeTrace(t, build)))
	require.NoError(t, err)
	return asm
}

func TestDecodeHeader(t *testing.T) {
	asm := decodeTrace(t, func(w *Writer) {})
	assert.Equal(t, MajorVersion, asm.MajorVersion)
	assert.Equal(t, MinorVersion, asm.MinorVersion)
	assert.Equal(t, "amd64", asm.Arch)
	assert.InDelta(t, 100.5, asm.StartTime, 1e-9)
	assert.Equal(t, uint64(42), asm.NanoTime)
	assert.Empty(t, asm.Regions)
}

func TestDecodeStubCode(t *testing.T) {
	code := bytes.Repeat([]byte{0x90}, 16)
	asm := decodeTrace(t, func(w *Writer) {
		w.StubCode(101, 0, "StubRoutines (final stubs)", 0x1000, code)
	})
	require.Len(t, asm.Regions, 1)
	r := asm.Regions[0]
	assert.True(t, r.IsStub)
	assert.Equal(t, "StubRoutines (final stubs)", r.Name)
	assert.Equal(t, uint64(0x1000), r.Base)
	assert.Equal(t, uint64(0x1010), r.End())
	assert.Equal(t, code, r.Code)
	assert.InDelta(t, 101.0, r.LoadTime, 1e-9)
	assert.True(t, r.ContainsAt(0x1000, 0.5), "stubs are live at any time")
}

func TestDecodeMethodLoad(t *testing.T) {
	asm := decodeTrace(t, func(w *Writer) {
		w.MethodLoad(102, 250000000, 0x2000, make([]byte, 32),
			[]MethodRecord{
				{
					ClassSignature: "Ljava/lang/String;",
					Name:           "indexOf",
					Descriptor:     "(II)I",
					SourceFile:     "String.java",
					LineTable:      []LineEntry{{Offset: 0, Line: 100}, {Offset: 8, Line: 101}},
				},
				{
					ClassSignature: "Ljava/lang/Math;",
					Name:           "min",
					Descriptor:     "(II)I",
					SourceFile:     "Math.java",
				},
			},
			[]DebugRecord{
				{PC: 0x2008, Frames: []FrameRecord{{MethodIndex: 1, BCI: 4}, {MethodIndex: 0, BCI: 12}}},
			})
	})
	require.Len(t, asm.Regions, 1)
	r := asm.Regions[0]
	assert.False(t, r.IsStub)
	assert.Equal(t, "java.lang.String.indexOf(int, int)", r.Name)
	assert.InDelta(t, 102.25, r.LoadTime, 1e-9)
	require.Len(t, r.Methods, 2)
	assert.Equal(t, "java.lang.Math.min", r.Methods[1].QualifiedName())
	assert.Equal(t, "String.java", r.Methods[0].SourceFile)
	assert.Equal(t, []LineEntry{{Offset: 0, Line: 100}, {Offset: 8, Line: 101}}, r.Methods[0].LineTable)
	require.Len(t, r.DebugInfos, 1)
	di := r.DebugInfos[0]
	assert.Equal(t, uint64(0x2008), di.PC)
	require.Len(t, di.Frames, 2)
	assert.Equal(t, "java.lang.Math.min:4", di.Frames[0].String())
	assert.Equal(t, "java.lang.String.indexOf:12", di.Frames[1].String())
}

func TestDecodeUnload(t *testing.T) {
	asm := decodeTrace(t, func(w *Writer) {
		w.MethodLoad(110, 0, 0x2000, make([]byte, 16),
			[]MethodRecord{{ClassSignature: "Lfoo/Bar;", Name: "baz", Descriptor: "()V", SourceFile: "Bar.java"}},
			nil)
		w.Unload(120, 0, 0x2000)
	})
	require.Len(t, asm.Regions, 1)
	r := asm.Regions[0]
	unload, ok := r.UnloadTime()
	require.True(t, ok)
	assert.InDelta(t, 120.0, unload, 1e-9)
	assert.True(t, r.ContainsAt(0x2008, 115))
	assert.False(t, r.ContainsAt(0x2008, 125))
	assert.False(t, r.ContainsAt(0x2008, 105), "not yet loaded")
}

func TestDecodeStubUnloadKeepsStubLive(t *testing.T) {
	asm := decodeTrace(t, func(w *Writer) {
		w.StubCode(101, 0, "call_stub", 0x1000, make([]byte, 16))
		w.Unload(120, 0, 0x1000)
	})
	require.Len(t, asm.Regions, 1)
	assert.True(t, asm.Regions[0].ContainsAt(0x1004, 500))
}

func TestDecodeUnloadUnknownAddress(t *testing.T) {
	_, err := Decode(bytes.NewReader(encodeTrace(t, func(w *Writer) {
		w.Unload(120, 0, 0xdead)
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0xdead")
}

func TestDecodeRegionOrderAndBounds(t *testing.T) {
	asm := decodeTrace(t, func(w *Writer) {
		w.StubCode(101, 0, "s1", 0x3000, make([]byte, 16))
		w.MethodLoad(102, 0, 0x1000, make([]byte, 8),
			[]MethodRecord{{ClassSignature: "Lfoo/Bar;", Name: "baz", Descriptor: "()V", SourceFile: "Bar.java"}},
			nil)
		w.StubCode(103, 0, "s2", 0x2000, make([]byte, 4))
	})
	require.Len(t, asm.Regions, 3)
	assert.Equal(t, "s1", asm.Regions[0].Name)
	assert.Equal(t, "foo.Bar.baz()", asm.Regions[1].Name)
	assert.Equal(t, "s2", asm.Regions[2].Name)
	low, high, ok := asm.Bounds()
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), low)
	assert.Equal(t, uint64(0x3010), high)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("NOTMAGICxxxxxxxxxxxxxxxx")))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeUnknownTag(t *testing.T) {
	data := encodeTrace(t, func(w *Writer) {})
	data = append(data, []byte("XXXX")...)
	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown record tag "XXXX"`)
}

func TestDecodePartialTag(t *testing.T) {
	data := encodeTrace(t, func(w *Writer) {})
	data = append(data, []byte("DY")...)
	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
}

func TestDecodeTruncatedRecord(t *testing.T) {
	data := encodeTrace(t, func(w *Writer) {
		w.StubCode(101, 0, "call_stub", 0x1000, make([]byte, 16))
	})
	_, err := Decode(bytes.NewReader(data[:len(data)-4]))
	require.Error(t, err)
}

func TestDecodeEmptyMethodTable(t *testing.T) {
	_, err := Decode(bytes.NewReader(encodeTrace(t, func(w *Writer) {
		w.MethodLoad(102, 0, 0x2000, make([]byte, 8), nil, nil)
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no methods")
}

func TestDecodeBadMethodIndex(t *testing.T) {
	_, err := Decode(bytes.NewReader(encodeTrace(t, func(w *Writer) {
		w.MethodLoad(102, 0, 0x2000, make([]byte, 8),
			[]MethodRecord{{ClassSignature: "Lfoo/Bar;", Name: "baz", Descriptor: "()V", SourceFile: "Bar.java"}},
			[]DebugRecord{{PC: 0x2000, Frames: []FrameRecord{{MethodIndex: 5, BCI: 0}}}})
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method 5 of 1")
}

func TestDecodeBadDescriptor(t *testing.T) {
	_, err := Decode(bytes.NewReader(encodeTrace(t, func(w *Writer) {
		w.MethodLoad(102, 0, 0x2000, make([]byte, 8),
			[]MethodRecord{{ClassSignature: "Lfoo/Bar;", Name: "baz", Descriptor: "(Q)V", SourceFile: "Bar.java"}},
			nil)
	})))
	require.Error(t, err)
}

func TestDecodeMethodSectionTagMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Header("amd64", 1, 0, 0)
	w.Flush()
	require.NoError(t, w.Err())
	buf.WriteString(tagMethodLoad)
	for _, v := range []uint64{1, 0, 0x2000} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(0))) // code size
	buf.WriteString("BOGU")
	_, err := Decode(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected MTHT")
}

// The decoder records whatever version the header carries and accepts an
// absent architecture string.
func TestDecodeHandBuiltHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(9)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(7)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(-1))) // absent arch
	for _, v := range []uint64{12, 0, 99} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	asm, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, int32(9), asm.MajorVersion)
	assert.Equal(t, int32(7), asm.MinorVersion)
	assert.Equal(t, "", asm.Arch)
	assert.InDelta(t, 12.0, asm.StartTime, 1e-9)
	assert.Equal(t, uint64(99), asm.NanoTime)
}
