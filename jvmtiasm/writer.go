package jvmtiasm

import (
	"bufio"
	"encoding/binary"
	"io"
)

// MethodRecord describes one Java method of a method load record, in the
// raw form the capture agent sees it: a JVM class signature and method
// descriptor rather than decoded type names.
type MethodRecord struct {
	ClassSignature string
	Name           string
	Descriptor     string
	SourceFile     string
	LineTable      []LineEntry
}

// FrameRecord is a single frame of a debug location. MethodIndex refers
// into the method table of the surrounding record, innermost frame first.
type FrameRecord struct {
	MethodIndex int32
	BCI         int32
}

// DebugRecord maps an absolute pc to its source frames.
type DebugRecord struct {
	PC     uint64
	Frames []FrameRecord
}

// Writer emits assembly traces in the format Decode consumes. Errors are
// sticky: the first failed write is kept, later calls become no-ops and
// Err reports it.
type Writer struct {
	err    error
	tmpbuf [8]byte
	bw     *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Header writes the trace preamble. Call it once, before any record.
func (w *Writer) Header(arch string, sec, nsec, nanoTime uint64) {
	w.write([]byte(Magic))
	w.u32(uint32(MajorVersion))
	w.u32(uint32(MinorVersion))
	w.str(arch)
	w.u64(sec)
	w.u64(nsec)
	w.u64(nanoTime)
}

// StubCode writes a record for VM generated stub code.
func (w *Writer) StubCode(sec, nsec uint64, name string, base uint64, code []byte) {
	w.write([]byte(tagDynamicCode))
	w.u64(sec)
	w.u64(nsec)
	w.str(name)
	w.u64(base)
	w.code(code)
}

// MethodLoad writes a compiled method record with its method table and
// debug info sections.
func (w *Writer) MethodLoad(sec, nsec uint64, base uint64, code []byte, methods []MethodRecord, debugInfos []DebugRecord) {
	w.write([]byte(tagMethodLoad))
	w.u64(sec)
	w.u64(nsec)
	w.u64(base)
	w.code(code)
	w.write([]byte(tagMethods))
	w.i32(int32(len(methods)))
	for _, m := range methods {
		w.str(m.ClassSignature)
		w.str(m.Name)
		w.str(m.Descriptor)
		w.str(m.SourceFile)
		w.i32(int32(len(m.LineTable)))
		for _, e := range m.LineTable {
			w.u64(e.Offset)
			w.i32(e.Line)
		}
	}
	w.write([]byte(tagDebugInfo))
	w.i32(int32(len(debugInfos)))
	for _, di := range debugInfos {
		w.u64(di.PC)
		w.i32(int32(len(di.Frames)))
		for _, f := range di.Frames {
			w.i32(f.MethodIndex)
			w.i32(f.BCI)
		}
	}
}

// Unload writes an unload record for a previously loaded region.
func (w *Writer) Unload(sec, nsec uint64, base uint64) {
	w.write([]byte(tagMethodUnload))
	w.u64(sec)
	w.u64(nsec)
	w.u64(base)
}

// Flush drains buffered output into the underlying writer.
func (w *Writer) Flush() {
	if w.err != nil {
		return
	}
	w.err = w.bw.Flush()
}

// Err returns the first error encountered by any write.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(data []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.bw.Write(data)
}

func (w *Writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	buf := w.tmpbuf[:4]
	binary.BigEndian.PutUint32(buf, v)
	w.write(buf)
}

func (w *Writer) i32(v int32) {
	w.u32(uint32(v))
}

func (w *Writer) u64(v uint64) {
	if w.err != nil {
		return
	}
	buf := w.tmpbuf[:8]
	binary.BigEndian.PutUint64(buf, v)
	w.write(buf)
}

// str writes a length prefixed string. The decoder additionally accepts -1
// as an absent string; the writer never emits that form.
func (w *Writer) str(s string) {
	w.i32(int32(len(s)))
	w.write([]byte(s))
}

func (w *Writer) code(code []byte) {
	w.i32(int32(len(code)))
	w.write(code)
}
