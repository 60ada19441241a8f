package jvmtiasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/chimehq/binarycursor"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Magic identifies a trace produced by the JVMTI assembly capture agent.
const Magic = "JVMTIASM"

// Trace format version emitted by the agent. Decode records whatever the
// header carries and does not reject other versions.
const (
	MajorVersion int32 = 1
	MinorVersion int32 = 0
)

// Record and section tags, written as their 4 ASCII bytes.
const (
	tagDynamicCode  = "DYNC"
	tagMethodLoad   = "CMLT"
	tagMethods      = "MTHT"
	tagDebugInfo    = "DEBI"
	tagMethodUnload = "CMUT"
)

var ErrBadMagic = errors.New("bad trace magic")

const (
	readerBlockSize     = 64 * 1024
	descriptorCacheSize = 512
)

type sigTypes struct {
	args string
	ret  string
}

type decoder struct {
	bc   binarycursor.BinaryCursor
	off  int64
	asm  *Assembly
	sigs *lru.Cache[string, sigTypes]
}

// Decode reads a complete assembly trace from r. Regions are returned in
// load order. Decoding is strict: any structural problem aborts with an
// error rather than resynchronizing on the next record.
func Decode(r io.ReaderAt) (*Assembly, error) {
	sigs, err := lru.New[string, sigTypes](descriptorCacheSize)
	if err != nil {
		return nil, err
	}
	bc := binarycursor.NewBinaryReaderAtCursor(bufra.NewBufReaderAt(r, readerBlockSize), 0)
	bc.SetOrder(binary.BigEndian)
	d := &decoder{bc: bc, asm: &Assembly{}, sigs: sigs}
	if err := d.header(); err != nil {
		return nil, err
	}
	if err := d.records(); err != nil {
		return nil, err
	}
	return d.asm, nil
}

func (d *decoder) header() error {
	var magic [8]byte
	if err := d.readBytes(magic[:]); err != nil {
		return fmt.Errorf("reading trace magic: %w", err)
	}
	if string(magic[:]) != Magic {
		return fmt.Errorf("%w: found %q, expected %q", ErrBadMagic, magic[:], Magic)
	}
	var err error
	if d.asm.MajorVersion, err = d.readInt32(); err != nil {
		return fmt.Errorf("reading major version: %w", err)
	}
	if d.asm.MinorVersion, err = d.readInt32(); err != nil {
		return fmt.Errorf("reading minor version: %w", err)
	}
	if d.asm.Arch, err = d.readString(); err != nil {
		return fmt.Errorf("reading architecture: %w", err)
	}
	if d.asm.StartTime, err = d.readTimestamp(); err != nil {
		return fmt.Errorf("reading start time: %w", err)
	}
	if d.asm.NanoTime, err = d.readUint64(); err != nil {
		return fmt.Errorf("reading nano time: %w", err)
	}
	return nil
}

func (d *decoder) records() error {
	for {
		recStart := d.off
		tag, eof, err := d.readTag()
		if eof {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading record tag at offset %d: %w", recStart, err)
		}
		switch tag {
		case tagDynamicCode:
			err = d.dynamicCode()
		case tagMethodLoad:
			err = d.methodLoad()
		case tagMethodUnload:
			err = d.methodUnload()
		default:
			return fmt.Errorf("unknown record tag %q at offset %d", tag, recStart)
		}
		if err != nil {
			return fmt.Errorf("record %s at offset %d: %w", tag, recStart, err)
		}
	}
}

// dynamicCode decodes a DYNC record describing a VM stub. Stubs carry no
// method metadata and are never unloaded.
func (d *decoder) dynamicCode() error {
	ts, err := d.readTimestamp()
	if err != nil {
		return err
	}
	name, err := d.readString()
	if err != nil {
		return err
	}
	base, err := d.readUint64()
	if err != nil {
		return err
	}
	code, err := d.readCode()
	if err != nil {
		return err
	}
	d.asm.Add(&CompiledCodeInfo{
		Name:     name,
		LoadTime: ts,
		Base:     base,
		Code:     code,
		IsStub:   true,
	})
	return nil
}

// methodLoad decodes a CMLT record and its mandatory MTHT and DEBI
// sections. The region is named after the first method in the table.
func (d *decoder) methodLoad() error {
	ts, err := d.readTimestamp()
	if err != nil {
		return err
	}
	base, err := d.readUint64()
	if err != nil {
		return err
	}
	code, err := d.readCode()
	if err != nil {
		return err
	}
	methods, err := d.methodsSection()
	if err != nil {
		return err
	}
	debugInfos, err := d.debugInfoSection(methods)
	if err != nil {
		return err
	}
	if len(methods) == 0 {
		return errors.New("method load record carries no methods")
	}
	d.asm.Add(&CompiledCodeInfo{
		Name:       methods[0].Signature(),
		LoadTime:   ts,
		Base:       base,
		Code:       code,
		Methods:    methods,
		DebugInfos: debugInfos,
	})
	return nil
}

// methodUnload decodes a CMUT record. An unload for an address that was
// never loaded means the trace is corrupt.
func (d *decoder) methodUnload() error {
	ts, err := d.readTimestamp()
	if err != nil {
		return err
	}
	base, err := d.readUint64()
	if err != nil {
		return err
	}
	region := d.asm.regionAt(base)
	if region == nil {
		return fmt.Errorf("unload references address 0x%x with no loaded region", base)
	}
	region.SetUnloadTime(ts)
	return nil
}

func (d *decoder) methodsSection() ([]*Method, error) {
	if err := d.expectTag(tagMethods); err != nil {
		return nil, err
	}
	count, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative method count %d", count)
	}
	var methods []*Method
	for i := int32(0); i < count; i++ {
		m, err := d.method()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func (d *decoder) method() (*Method, error) {
	classSig, err := d.readString()
	if err != nil {
		return nil, err
	}
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	descriptor, err := d.readString()
	if err != nil {
		return nil, err
	}
	sourceFile, err := d.readString()
	if err != nil {
		return nil, err
	}
	ltCount, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if ltCount < 0 {
		return nil, fmt.Errorf("negative line table count %d", ltCount)
	}
	var lineTable []LineEntry
	for i := int32(0); i < ltCount; i++ {
		offset, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		line, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		lineTable = append(lineTable, LineEntry{Offset: offset, Line: line})
	}
	className, err := decodeClassSignature(classSig)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", name, err)
	}
	st, err := d.descriptorTypes(descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", className, name, err)
	}
	return &Method{
		ClassName:  className,
		MethodName: name,
		Arguments:  st.args,
		ReturnType: st.ret,
		SourceFile: sourceFile,
		LineTable:  lineTable,
	}, nil
}

func (d *decoder) debugInfoSection(methods []*Method) ([]*DebugInfo, error) {
	if err := d.expectTag(tagDebugInfo); err != nil {
		return nil, err
	}
	numPCs, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if numPCs < 0 {
		return nil, fmt.Errorf("negative debug info count %d", numPCs)
	}
	var infos []*DebugInfo
	for i := int32(0); i < numPCs; i++ {
		pc, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		frameCount, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		if frameCount < 0 {
			return nil, fmt.Errorf("negative frame count %d", frameCount)
		}
		var frames []*DebugFrame
		for j := int32(0); j < frameCount; j++ {
			methodIdx, err := d.readInt32()
			if err != nil {
				return nil, err
			}
			bci, err := d.readInt32()
			if err != nil {
				return nil, err
			}
			if methodIdx < 0 || int(methodIdx) >= len(methods) {
				return nil, fmt.Errorf("debug info for pc 0x%x references method %d of %d", pc, methodIdx, len(methods))
			}
			frames = append(frames, &DebugFrame{Method: methods[methodIdx], BCI: bci})
		}
		infos = append(infos, &DebugInfo{PC: pc, Frames: frames})
	}
	return infos, nil
}

// descriptorTypes decodes a JVM method descriptor, memoizing results since
// the same descriptors repeat across compiled methods.
func (d *decoder) descriptorTypes(descriptor string) (sigTypes, error) {
	if st, ok := d.sigs.Get(descriptor); ok {
		return st, nil
	}
	args, ret, err := decodeDescriptor(descriptor)
	if err != nil {
		return sigTypes{}, err
	}
	st := sigTypes{args: args, ret: ret}
	d.sigs.Add(descriptor, st)
	return st, nil
}

func (d *decoder) readCode() ([]byte, error) {
	size, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("negative code size %d", size)
	}
	code := make([]byte, size)
	if err := d.readBytes(code); err != nil {
		return nil, err
	}
	return code, nil
}

// readTag reads a 4 byte record tag. A zero length read at a record
// boundary is the clean end of the trace; a partial tag is corruption.
func (d *decoder) readTag() (string, bool, error) {
	var buf [4]byte
	n, err := d.bc.Read(buf[:])
	d.off += int64(n)
	if n == len(buf) {
		return string(buf[:]), false, nil
	}
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return "", true, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return "", false, err
}

func (d *decoder) expectTag(want string) error {
	tag, eof, err := d.readTag()
	if eof {
		return fmt.Errorf("expected %s section tag: %w", want, io.ErrUnexpectedEOF)
	}
	if err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("expected %s section tag, found %q at offset %d", want, tag, d.off-4)
	}
	return nil
}

func (d *decoder) readBytes(buf []byte) error {
	n, err := d.bc.Read(buf)
	d.off += int64(n)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("truncated record at offset %d: %w", d.off, err)
}

func (d *decoder) readUint32() (uint32, error) {
	v, err := d.bc.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("truncated record at offset %d: %w", d.off, err)
	}
	d.off += 4
	return v, nil
}

func (d *decoder) readInt32() (int32, error) {
	v, err := d.readUint32()
	return int32(v), err
}

func (d *decoder) readUint64() (uint64, error) {
	v, err := d.bc.ReadUint64()
	if err != nil {
		return 0, fmt.Errorf("truncated record at offset %d: %w", d.off, err)
	}
	d.off += 8
	return v, nil
}

// readTimestamp reads a seconds and nanoseconds pair as a single float.
func (d *decoder) readTimestamp() (float64, error) {
	sec, err := d.readUint64()
	if err != nil {
		return 0, err
	}
	nsec, err := d.readUint64()
	if err != nil {
		return 0, err
	}
	return float64(sec) + float64(nsec)/1e9, nil
}

// readString reads a length prefixed UTF-8 string. A length of -1 marks an
// absent string, decoded as empty.
func (d *decoder) readString() (string, error) {
	length, err := d.readInt32()
	if err != nil {
		return "", err
	}
	switch {
	case length == -1, length == 0:
		return "", nil
	case length < 0:
		return "", fmt.Errorf("bad string length %d at offset %d", length, d.off)
	}
	buf := make([]byte, length)
	if err := d.readBytes(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
