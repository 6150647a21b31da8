// Package loader reads a compiled closure's binary container off disk and
// builds the immutable *sqfunc.Function tree the engine decompiles.
//
// Grounded on two sources: the section-by-section binary.Read layout of
// kristofer-smog/pkg/bytecode (count-prefixed sections, a magic/version
// header, recursive nested structures) generalized to the `'PART'`-tagged
// framing and field order the original NutCracker loader actually reads
// (nutcracker/NutScript.cpp, nutcracker/BinaryReader.h) — magic 0xFAFA,
// a 'SQIR' stream tag, three size-sanity ints, then one recursive function
// record per closure, closed by a 'TAIL' tag.
package loader

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding"

	"nutdump/bytecode"
	"nutdump/sqfunc"
	"nutdump/value"
)

// magic tags, read as little-endian 32-bit words whose values are the
// original compiler's four-character constants ('PART', 'TAIL', 'SQIR').
const (
	tagStreamMarker uint16 = 0xFAFA
	tagStream       uint32 = 0x53514952 // "SQIR"
	tagPart         uint32 = 0x50415254 // "PART"
	tagTail         uint32 = 0x5441494C // "TAIL"
)

// object-type tags for the literal/constant encoding (SqObject.cpp).
const (
	objNull byte = iota
	objInteger
	objFloat
	objString
	objBool
)

// Options configures a Load call. Charset decodes the raw bytes of every
// string object in the container; Dialect selects which numeric opcode
// table normalizes raw instruction bytes (bytecode.Dialect).
type Options struct {
	Charset encoding.Encoding
	Dialect bytecode.Dialect
}

// DefaultOptions assumes a plain UTF-8/ASCII-compatible container compiled
// with the newer, unified-arithmetic opcode numbering.
func DefaultOptions() Options {
	return Options{Charset: encoding.Nop, Dialect: bytecode.DialectUnifiedArith}
}

// InvalidBinaryError is the sole error kind Load surfaces (spec.md §7:
// "a malformed container reports exactly one error kind, never a panic").
type InvalidBinaryError struct {
	Offset int64
	Reason string
}

func (e *InvalidBinaryError) Error() string {
	return fmt.Sprintf("💥 invalid binary at offset %d: %s", e.Offset, e.Reason)
}

// reader wraps the source stream with a running byte offset, so a framing
// failure anywhere in the recursive descent can report where it happened.
type reader struct {
	r      io.Reader
	offset int64
	opts   Options
}

func (rd *reader) fail(reason string, args ...any) error {
	return &InvalidBinaryError{Offset: rd.offset, Reason: fmt.Sprintf(reason, args...)}
}

func (rd *reader) read(buf []byte) error {
	n, err := io.ReadFull(rd.r, buf)
	rd.offset += int64(n)
	if err != nil {
		return rd.fail("unexpected end of stream: %v", err)
	}
	return nil
}

func (rd *reader) u16() (uint16, error) {
	var buf [2]byte
	if err := rd.read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (rd *reader) i32() (int32, error) {
	var buf [4]byte
	if err := rd.read(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (rd *reader) u32() (uint32, error) {
	v, err := rd.i32()
	return uint32(v), err
}

func (rd *reader) f32() (float32, error) {
	v, err := rd.u32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (rd *reader) byteVal() (byte, error) {
	var buf [1]byte
	if err := rd.read(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (rd *reader) boolVal() (bool, error) {
	b, err := rd.byteVal()
	return b != 0, err
}

// expectTag reads a 4-byte tag and requires it to equal want, the way
// ConfirmOnPart validates every section boundary in the original reader.
func (rd *reader) expectTag(want uint32, name string) error {
	got, err := rd.u32()
	if err != nil {
		return err
	}
	if uint32(got) != want {
		return rd.fail("%s marker mismatch: got 0x%08X, want 0x%08X", name, uint32(got), want)
	}
	return nil
}

// rawString reads a length-prefixed byte run and decodes it through the
// configured charset (spec.md §6's external-collaborator contract).
func (rd *reader) rawString() (string, error) {
	length, err := rd.i32()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", rd.fail("negative string length %d", length)
	}
	buf := make([]byte, length)
	if length > 0 {
		if err := rd.read(buf); err != nil {
			return "", err
		}
	}
	decoded, err := rd.opts.Charset.NewDecoder().Bytes(buf)
	if err != nil {
		return "", rd.fail("charset decode failed: %v", err)
	}
	return string(decoded), nil
}

// stringObject reads a type-tagged string-or-null object
// (ReadSQStringObject): most names in the container (source name,
// function name, parameter names, local names) are stored this way so an
// absent name round-trips as "" rather than needing a separate flag.
func (rd *reader) stringObject() (string, error) {
	tag, err := rd.byteVal()
	if err != nil {
		return "", err
	}
	switch tag {
	case objString:
		return rd.rawString()
	case objNull:
		return "", nil
	default:
		return "", rd.fail("expected string object, got type tag 0x%02X", tag)
	}
}

// literal reads one constant-pool entry (SqObject::Load).
func (rd *reader) literal() (value.Value, error) {
	tag, err := rd.byteVal()
	if err != nil {
		return value.Value{}, err
	}
	switch tag {
	case objNull:
		return value.Null(), nil
	case objString:
		s, err := rd.rawString()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case objInteger:
		i, err := rd.i32()
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(i), nil
	case objBool:
		b, err := rd.boolVal()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case objFloat:
		f, err := rd.f32()
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(f), nil
	default:
		return value.Value{}, rd.fail("unknown literal type tag 0x%02X", tag)
	}
}

// Load validates the container header and recursively decodes the root
// function record, returning loader.InvalidBinaryError for any framing
// mismatch and never panicking on truncated or corrupt input (spec.md §7).
func Load(r io.Reader, opts Options) (*sqfunc.Function, error) {
	if opts.Charset == nil {
		opts.Charset = encoding.Nop
	}
	rd := &reader{r: r, opts: opts}

	marker, err := rd.u16()
	if err != nil {
		return nil, err
	}
	if marker != tagStreamMarker {
		return nil, rd.fail("bad stream marker 0x%04X", marker)
	}
	if err := rd.expectTag(tagStream, "stream"); err != nil {
		return nil, err
	}

	sizeChar, err := rd.i32()
	if err != nil {
		return nil, err
	}
	sizeInt, err := rd.i32()
	if err != nil {
		return nil, err
	}
	sizeFloat, err := rd.i32()
	if err != nil {
		return nil, err
	}
	if sizeChar != 1 {
		return nil, rd.fail("unsupported char width %d", sizeChar)
	}
	if sizeInt != 4 || sizeFloat != 4 {
		return nil, rd.fail("unsupported int/float width %d/%d", sizeInt, sizeFloat)
	}

	root, err := rd.function()
	if err != nil {
		return nil, err
	}

	if err := rd.expectTag(tagTail, "tail"); err != nil {
		return nil, err
	}
	return root, nil
}

// function recursively decodes one function record (NutFunction::Load):
// names, then eight section counts, then each section in a fixed order,
// each opening with a 'PART' tag.
func (rd *reader) function() (*sqfunc.Function, error) {
	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	sourceName, err := rd.stringObject()
	if err != nil {
		return nil, err
	}
	name, err := rd.stringObject()
	if err != nil {
		return nil, err
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	nLiterals, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nParams, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nOuters, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nLocals, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nLines, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nDefaults, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nInstrs, err := rd.i32()
	if err != nil {
		return nil, err
	}
	nFuncs, err := rd.i32()
	if err != nil {
		return nil, err
	}
	for _, n := range []int32{nLiterals, nParams, nOuters, nLocals, nLines, nDefaults, nInstrs, nFuncs} {
		if n < 0 {
			return nil, rd.fail("negative section count %d", n)
		}
	}

	fn := &sqfunc.Function{SourceName: sourceName, Name: name}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Literals = make([]value.Value, nLiterals)
	for i := range fn.Literals {
		if fn.Literals[i], err = rd.literal(); err != nil {
			return nil, err
		}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Params = make([]string, nParams)
	for i := range fn.Params {
		if fn.Params[i], err = rd.stringObject(); err != nil {
			return nil, err
		}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Outers = make([]sqfunc.OuterValue, nOuters)
	for i := range fn.Outers {
		kind, err := rd.i32()
		if err != nil {
			return nil, err
		}
		src, err := rd.i32()
		if err != nil {
			return nil, err
		}
		name, err := rd.stringObject()
		if err != nil {
			return nil, err
		}
		fn.Outers[i] = sqfunc.OuterValue{Kind: sqfunc.Kind(kind), Src: int(src), Name: name}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Locals = make([]sqfunc.LocalVar, nLocals)
	for i := range fn.Locals {
		lname, err := rd.stringObject()
		if err != nil {
			return nil, err
		}
		pos, err := rd.i32()
		if err != nil {
			return nil, err
		}
		start, err := rd.i32()
		if err != nil {
			return nil, err
		}
		end, err := rd.i32()
		if err != nil {
			return nil, err
		}
		fn.Locals[i] = sqfunc.LocalVar{
			Name:         lname,
			StackPos:     int(pos),
			ScopeStartIP: int(start),
			ScopeEndIP:   int(end),
		}
	}
	markForeachLocals(fn)

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Lines = make([]sqfunc.LineInfo, nLines)
	for i := range fn.Lines {
		ip, err := rd.i32()
		if err != nil {
			return nil, err
		}
		line, err := rd.i32()
		if err != nil {
			return nil, err
		}
		fn.Lines[i] = sqfunc.LineInfo{IP: int(ip), Line: int(line)}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.DefaultArgs = make([]sqfunc.DefaultParam, nDefaults)
	for i := range fn.DefaultArgs {
		idx, err := rd.i32()
		if err != nil {
			return nil, err
		}
		fn.DefaultArgs[i] = sqfunc.DefaultParam{EnclosingSlot: int(idx)}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Instructions = make([]bytecode.Instruction, nInstrs)
	for i := range fn.Instructions {
		if fn.Instructions[i], err = rd.instruction(); err != nil {
			return nil, err
		}
	}

	if err := rd.expectTag(tagPart, "part"); err != nil {
		return nil, err
	}
	fn.Nested = make([]*sqfunc.Function, nFuncs)
	for i := range fn.Nested {
		if fn.Nested[i], err = rd.function(); err != nil {
			return nil, err
		}
	}

	stackSize, err := rd.i32()
	if err != nil {
		return nil, err
	}
	isGenerator, err := rd.boolVal()
	if err != nil {
		return nil, err
	}
	varParams, err := rd.i32()
	if err != nil {
		return nil, err
	}
	fn.StackSize = int(stackSize)
	fn.IsGenerator = isGenerator
	fn.IsVarArgs = varParams != 0

	return fn, nil
}

// instruction decodes one fixed-width 8-byte record and normalizes its
// opcode byte through the configured dialect table.
func (rd *reader) instruction() (bytecode.Instruction, error) {
	raw, err := rd.byteVal()
	if err != nil {
		return bytecode.Instruction{}, err
	}
	arg0, err := rd.byteVal()
	if err != nil {
		return bytecode.Instruction{}, err
	}
	arg1, err := rd.i32()
	if err != nil {
		return bytecode.Instruction{}, err
	}
	arg2, err := rd.byteVal()
	if err != nil {
		return bytecode.Instruction{}, err
	}
	arg3, err := rd.byteVal()
	if err != nil {
		return bytecode.Instruction{}, err
	}

	op := bytecode.Normalize(rd.opts.Dialect, raw)
	return bytecode.Instruction{Op: op, Arg0: arg0, Arg1: arg1, Arg2: arg2, Arg3: arg3, Raw: raw}, nil
}

// markForeachLocals flags the two or three consecutive locals a FOREACH
// loop pushes (index, value, optional iterator) so the engine's
// decodeForeach can tell them apart from an ordinary local declared at the
// same instruction (SPEC_FULL.md §5, ported from NutFunction::Load's
// post-pass over m_Instructions).
func markForeachLocals(fn *sqfunc.Function) {
	for ip, in := range fn.Instructions {
		if in.Op != bytecode.OpForeach {
			continue
		}
		scopeStart := ip - 1
		idxPos := int(in.Arg2)
		for i := len(fn.Locals) - 1; i >= 0; i-- {
			l := &fn.Locals[i]
			if l.StackPos != idxPos || l.ScopeStartIP != scopeStart {
				continue
			}
			l.IsForeachIter = true
			if i+1 < len(fn.Locals) {
				fn.Locals[i+1].IsForeachIter = true
			}
			if i+2 < len(fn.Locals) && fn.Locals[i+2].Name == "@ITERATOR@" {
				fn.Locals[i+2].IsForeachIter = true
			}
			break
		}
	}
}
