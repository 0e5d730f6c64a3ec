// Package unwind implements the managed FrameUnwinder: walking one
// thread's linked interpreter-frame chain into an ordered, leaf-first
// sequence of resolved frames without taking the runtime's global
// execution lock.
//
// Grounded on the teacher's python.go, which walks _PyInterpreterFrame
// chains via hand-measured struct offsets and a "previous == current"
// cycle check (pystackiter.Next). Here the offsets move into
// internal/abi's version-selected table, the ad hoc wazero-memory
// indirection (python.go's vmem/deref) becomes the generic MemReader
// function type, and the cycle check becomes an explicit seen-address
// set per spec.md §8 ("No cycles").
package unwind

import (
	"encoding/binary"

	"github.com/stealthrocket/rtprof/internal/abi"
	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/framecache"
	"github.com/stealthrocket/rtprof/internal/strtab"
)

// MemReader copies len(dst) bytes from a possibly-invalid addr. Both
// saferead.Reader.Copy and pagecache.Cache.Read satisfy this signature;
// an Unwinder is agnostic to which one backs it.
type MemReader func(dst []byte, addr uintptr) error

// addrSize is the width in bytes of a pointer-sized field in the target
// runtime's address space.
const addrSize = 8

// inferenceWindow bounds how many bytecode units the C-function-call
// inference algorithm scans backward from the current instruction,
// per spec.md §4.5.1.
const inferenceWindow = 20

// Unwinder walks one thread's managed frame chain.
type Unwinder struct {
	mem       MemReader
	offsets   abi.Offsets
	strings   *strtab.Table
	cache     *framecache.Cache
	maxFrames int
}

// New constructs an Unwinder. maxFrames bounds the depth of any single
// walk, per spec.md's max_frames configuration option.
func New(mem MemReader, offsets abi.Offsets, strings *strtab.Table, cache *framecache.Cache, maxFrames int) *Unwinder {
	if maxFrames <= 0 {
		maxFrames = 2048
	}
	return &Unwinder{mem: mem, offsets: offsets, strings: strings, cache: cache, maxFrames: maxFrames}
}

// ResolveCurrentFrame reads the current-frame pointer out of a thread
// state structure. The offset is expected to already account for any
// runtime-internal indirection (e.g. thread-state -> execution-frame ->
// interpreter-frame) that the particular runtime version requires; that
// collapsing happens once, in the abi.Offsets table, not in this method.
func (u *Unwinder) ResolveCurrentFrame(threadState uintptr) (uintptr, error) {
	return u.readPtr(threadState + uintptr(u.offsets.ThreadStateCurrentFrame))
}

// Unwind walks the managed call chain starting at frameAddr, returning a
// leaf-first sequence of resolved frames bounded to maxFrames entries. It
// never propagates an error to the caller: a failed read, or detection of
// a revisited frame address (a corrupt or adversarial cyclic chain), aborts
// the walk and appends a sentinel frame.Invalid entry, per the
// ReadFault/FrameError rows of the error taxonomy and the cyclic-guard
// scenario in spec.md §8. Natural termination at a null "previous"
// pointer, or at max_frames, ends the walk without an INVALID marker.
func (u *Unwinder) Unwind(frameAddr uintptr) []frame.Frame {
	var out []frame.Frame
	seen := make(map[uintptr]struct{}, 16)

	addr := frameAddr
	for addr != 0 && len(out) < u.maxFrames {
		if _, dup := seen[addr]; dup {
			out = append(out, frame.Invalid)
			break
		}
		seen[addr] = struct{}{}

		f, next, ok := u.readFrame(addr, len(out) == 0)
		if !ok {
			out = append(out, frame.Invalid)
			break
		}
		if f != nil {
			out = append(out, *f)
		}
		addr = next
	}
	return out
}

// readFrame resolves one frame object at addr, returning the resolved
// Frame (nil if the frame should be skipped entirely, e.g. a shim whose
// inferred call produced nothing useful), the address of the previous
// frame to continue the walk at, and whether the read succeeded.
func (u *Unwinder) readFrame(addr uintptr, isLeaf bool) (*frame.Frame, uintptr, bool) {
	codeAddr, err := u.readPtr(addr + uintptr(u.offsets.FrameCode))
	if err != nil {
		return nil, 0, false
	}
	prevAddr, err := u.readPtr(addr + uintptr(u.offsets.FramePrevious))
	if err != nil {
		return nil, 0, false
	}

	isShim := false
	if u.offsets.HasOwnerTag() {
		owner, err := u.readU8(addr + uintptr(u.offsets.FrameOwner))
		if err == nil {
			isShim = owner == byte(u.offsets.FrameOwnerGenerator)
		}
	}

	if codeAddr == 0 {
		// Executable is a built-in callable shim, not a genuine code
		// object (spec.md §4.5 point 5). Only the leaf frame attempts
		// C-function-name inference; interior shim frames are skipped
		// entirely and the walk continues toward the next real code
		// object.
		if !isLeaf {
			return nil, prevAddr, true
		}
		name, ok := u.inferCallableDescriptor(addr)
		if !ok {
			name, ok = u.inferCFunctionName(prevAddr)
		}
		if !ok {
			return nil, prevAddr, true
		}
		key := frame.MakeSyntheticKey(strtab.KeyForContent(name))
		f := u.cache.GetOrCreate(key, func() (frame.Frame, error) {
			u.strings.Register(key, name)
			return frame.Frame{NameKey: key, CacheKey: key}, nil
		})
		return &f, prevAddr, true
	}

	prevInstr, err := u.readPtr(addr + uintptr(u.offsets.FramePrevInstr))
	if err != nil {
		return nil, 0, false
	}
	codeStart := codeAddr + uintptr(u.offsets.CodeAdaptive)
	var instructionIndex uint16
	if prevInstr >= codeStart {
		instructionIndex = uint16((prevInstr - codeStart) / uintptr(u.offsets.CodeUnitSize))
	}

	codeIdentity := uint64(codeAddr)
	key := frame.MakeManagedKey(codeIdentity, instructionIndex)

	f := u.cache.GetOrCreate(key, func() (frame.Frame, error) {
		return u.buildFrame(codeAddr, prevInstr, key, isShim)
	})
	return &f, prevAddr, true
}

// buildFrame constructs a Frame by reading the code object's filename,
// name, and line-table-derived current line.
func (u *Unwinder) buildFrame(codeAddr, prevInstr uintptr, key uint64, isShim bool) (frame.Frame, error) {
	filenameAddr, err := u.readPtr(codeAddr + uintptr(u.offsets.CodeFilename))
	if err != nil {
		return frame.Frame{}, err
	}
	nameAddr, err := u.readPtr(codeAddr + uintptr(u.offsets.CodeName))
	if err != nil {
		return frame.Frame{}, err
	}

	filename, _ := u.readInternedString(filenameAddr)
	name, _ := u.readInternedString(nameAddr)

	filenameKey := strtab.KeyForContent(filename)
	nameKey := strtab.KeyForContent(name)
	u.strings.Register(filenameKey, filename)
	u.strings.Register(nameKey, name)

	line, _ := u.lineForInstruction(codeAddr, prevInstr)

	return frame.Frame{
		FilenameKey: filenameKey,
		NameKey:     nameKey,
		Location:    frame.Location{LineStart: uint32(line), LineEnd: uint32(line)},
		IsShim:      isShim,
		CacheKey:    key,
	}, nil
}

// lineForInstruction walks the code object's variable-length line table
// to find the source line covering prevInstr, mirroring the teacher's
// lineForFrame. Runtimes that ship a separate line array instead of the
// compact line-table encoding are not supported by this path; callers get
// back a zero line in that case.
func (u *Unwinder) lineForInstruction(codeAddr, prevInstr uintptr) (int32, bool) {
	if u.offsets.CodeLineArray != 0 {
		if arr, err := u.readPtr(codeAddr + uintptr(u.offsets.CodeLineArray)); err == nil && arr != 0 {
			return 0, false
		}
	}

	firstLine, err := u.readI32(codeAddr + uintptr(u.offsets.CodeFirstLine))
	if err != nil {
		return 0, false
	}
	codeStart := codeAddr + uintptr(u.offsets.CodeAdaptive)
	if prevInstr < codeStart {
		return firstLine, true
	}

	tableAddr, err := u.readPtr(codeAddr + uintptr(u.offsets.CodeLineTable))
	if err != nil || tableAddr == 0 {
		return firstLine, false
	}

	length, err := u.readI32(tableAddr + uintptr(u.offsets.BytesLengthOffset))
	if err != nil {
		return firstLine, false
	}
	table := tableAddr + uintptr(u.offsets.BytesDataOffset)

	addrq := int32(prevInstr - codeStart)

	ptr := table
	limit := table + uintptr(length)
	arEnd := int32(0)
	line := firstLine
	result := int32(-1)

	for arEnd <= addrq && ptr < limit {
		entry, err := u.readU8(ptr)
		if err != nil {
			break
		}
		code := (entry >> 3) & 15
		delta := int32(0)
		switch code {
		case 11:
			delta = 1
		case 12:
			delta = 2
		case 13, 14:
			delta, _ = u.readPackedVarint(ptr + 1)
		}
		line += delta
		if entry>>3 == 0x1F {
			result = -1
		} else {
			result = line
		}
		arEnd += (int32(entry&7) + 1) * int32(u.offsets.CodeUnitSize)

		ptr++
		for ptr < limit {
			b, err := u.readU8(ptr)
			if err != nil || b&128 != 0 {
				break
			}
			ptr++
		}
	}

	return result, true
}

// readPackedVarint decodes the runtime's packed signed varint encoding,
// used inline within the line-table byte stream: 6 magnitude bits per
// byte, bit 6 a continuation flag, and the least-significant recovered
// bit carries the sign. Mirrors the teacher's pysvarint.
func (u *Unwinder) readPackedVarint(addr uintptr) (int32, error) {
	read, err := u.readU8(addr)
	if err != nil {
		return 0, err
	}
	val := uint32(read & 63)
	shift := uint(0)
	for read&64 != 0 {
		addr++
		read, err = u.readU8(addr)
		if err != nil {
			return 0, err
		}
		shift += 6
		val |= uint32(read&63) << shift
	}
	x := int32(val >> 1)
	if val&1 != 0 {
		x = -x
	}
	return x, nil
}

// inferCFunctionName implements spec.md §4.5.1: when the leaf frame turns
// out to be a call into a built-in callable shim, reconstruct what was
// loaded onto the value stack immediately before the call by scanning up
// to inferenceWindow bytecode units backward from the caller's current
// instruction.
func (u *Unwinder) inferCFunctionName(callerFrameAddr uintptr) (string, bool) {
	if callerFrameAddr == 0 {
		return "", false
	}
	codeAddr, err := u.readPtr(callerFrameAddr + uintptr(u.offsets.FrameCode))
	if err != nil || codeAddr == 0 {
		return "", false
	}
	prevInstr, err := u.readPtr(callerFrameAddr + uintptr(u.offsets.FramePrevInstr))
	if err != nil {
		return "", false
	}
	codeStart := codeAddr + uintptr(u.offsets.CodeAdaptive)
	if prevInstr < codeStart {
		return "", false
	}

	unitSize := uintptr(u.offsets.CodeUnitSize)
	cursor := prevInstr - unitSize

	var attrName, globalName string
	for i := 0; i < inferenceWindow && cursor >= codeStart; i++ {
		op, err := u.readU8(cursor)
		if err != nil {
			break
		}
		arg, _ := u.readU8(cursor + 1)

		switch op {
		case u.offsets.OpcodeCacheSlot, u.offsets.OpcodePushNull, u.offsets.OpcodeLoadFast:
			// Skip: none of these carry a name useful to the caller.
		case u.offsets.OpcodeLoadAttr:
			if attrName == "" {
				attrName = u.resolveNameTableEntry(codeAddr, arg)
			}
		case u.offsets.OpcodeLoadGlobal:
			globalName = u.resolveNameTableEntry(codeAddr, arg)
			cursor = codeStart - unitSize // force loop exit: global-load terminates the scan
		case u.offsets.OpcodeCall:
			cursor = codeStart - unitSize // earlier call instruction terminates the scan
		}

		cursor -= unitSize
	}

	switch {
	case globalName != "" && attrName != "":
		return globalName + "." + attrName, true
	case globalName != "":
		return globalName, true
	case attrName != "":
		return attrName, true
	default:
		return "", false
	}
}

// maxNameTableEntries bounds a name tuple's reported length, guarding
// against a corrupt or adversarial tuple object claiming an implausible
// item count.
const maxNameTableEntries = 10000

// resolveNameTableEntry resolves an oparg into the code object's name
// table (its co_names tuple-of-strings), per spec.md §4.5.1. LOAD_GLOBAL
// and, on some runtime versions, LOAD_ATTR pack an extra flag bit into the
// low bit of the oparg alongside the table index, so the index is tried
// both shifted and unshifted, same as the teacher's own dual-interpretation
// fallback for this ambiguity.
func (u *Unwinder) resolveNameTableEntry(codeAddr uintptr, arg byte) string {
	if u.offsets.CodeNames == 0 {
		return ""
	}
	namesAddr, err := u.readPtr(codeAddr + uintptr(u.offsets.CodeNames))
	if err != nil || namesAddr == 0 {
		return ""
	}
	count, err := u.readPtr(namesAddr + uintptr(u.offsets.TupleSizeOffset))
	if err != nil || count == 0 || count > maxNameTableEntries {
		return ""
	}
	if name, ok := u.lookupNameTableEntry(namesAddr, count, uintptr(arg>>1)); ok {
		return name
	}
	if name, ok := u.lookupNameTableEntry(namesAddr, count, uintptr(arg)); ok {
		return name
	}
	return ""
}

func (u *Unwinder) lookupNameTableEntry(namesAddr, count, index uintptr) (string, bool) {
	if index >= count {
		return "", false
	}
	itemAddr, err := u.readPtr(namesAddr + uintptr(u.offsets.TupleItemsOffset) + index*addrSize)
	if err != nil || itemAddr == 0 {
		return "", false
	}
	name, err := u.readInternedString(itemAddr)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

// maxCStringLen bounds how many bytes inferCallableDescriptor's C-string
// reads scan before giving up on a terminating NUL, guarding against a
// runaway read over an unterminated or corrupt buffer.
const maxCStringLen = 256

// inferCallableDescriptor implements the second spec.md §4.5.1 mechanism:
// when the shim frame's executable pointer is itself a known C-callable
// object rather than a code object, its method descriptor is read directly
// out of process memory and synthesised into a qualified name.
//
// Grounded on echion's get_cfunction_name (original_source/echion/
// cfunction.h): identify a builtin_function_or_method by its type's
// tp_name, then read ml_name off its PyMethodDef, preferring an m_module
// qualifier and falling back to the bound receiver's type name.
func (u *Unwinder) inferCallableDescriptor(frameAddr uintptr) (string, bool) {
	if u.offsets.FrameExecutable == 0 {
		return "", false
	}
	executable, err := u.readPtr(frameAddr + uintptr(u.offsets.FrameExecutable))
	if err != nil || executable == 0 {
		return "", false
	}
	return u.resolveCCallableName(executable)
}

func (u *Unwinder) resolveCCallableName(callableAddr uintptr) (string, bool) {
	if u.offsets.ObjectTypeOffset == 0 || u.offsets.TypeNameOffset == 0 || u.offsets.CFuncMethodDefOffset == 0 {
		return "", false
	}
	typeName, ok := u.readTypeName(callableAddr)
	if !ok || typeName != "builtin_function_or_method" {
		return "", false
	}

	methodDefAddr, err := u.readPtr(callableAddr + uintptr(u.offsets.CFuncMethodDefOffset))
	if err != nil || methodDefAddr == 0 {
		return "", false
	}
	nameAddr, err := u.readPtr(methodDefAddr + uintptr(u.offsets.MethodDefNameOffset))
	if err != nil || nameAddr == 0 {
		return "", false
	}
	methodName, err := u.readCString(nameAddr, maxCStringLen)
	if err != nil || methodName == "" {
		return "", false
	}

	if moduleAddr, err := u.readPtr(callableAddr + uintptr(u.offsets.CFuncModuleOffset)); err == nil && moduleAddr != 0 {
		if moduleName, err := u.readInternedString(moduleAddr); err == nil && moduleName != "" {
			return moduleName + "." + methodName, true
		}
	}
	if selfAddr, err := u.readPtr(callableAddr + uintptr(u.offsets.CFuncSelfOffset)); err == nil && selfAddr != 0 {
		if selfTypeName, ok := u.readTypeName(selfAddr); ok && selfTypeName != "" {
			return selfTypeName + "." + methodName, true
		}
	}
	return methodName, true
}

// readTypeName reads an object's type name (its ob_type->tp_name, a plain
// C string) by following one pointer indirection from the object itself.
func (u *Unwinder) readTypeName(objAddr uintptr) (string, bool) {
	typeAddr, err := u.readPtr(objAddr + uintptr(u.offsets.ObjectTypeOffset))
	if err != nil || typeAddr == 0 {
		return "", false
	}
	nameAddr, err := u.readPtr(typeAddr + uintptr(u.offsets.TypeNameOffset))
	if err != nil || nameAddr == 0 {
		return "", false
	}
	name, err := u.readCString(nameAddr, maxCStringLen)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

// readCString reads a NUL-terminated C string, unlike readInternedString
// which reads a runtime-managed unicode object. tp_name and ml_name are
// both plain char* fields, not interned string objects.
func (u *Unwinder) readCString(addr uintptr, max int) (string, error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < max; i++ {
		b, err := u.readU8(addr + uintptr(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

func (u *Unwinder) readInternedString(addr uintptr) (string, error) {
	if addr == 0 {
		return "", nil
	}
	state, err := u.readU8(addr + uintptr(u.offsets.StringStateOffset))
	if err != nil {
		return "", err
	}
	const compactASCIIMask = 1<<5 | 1<<6
	if state&compactASCIIMask != compactASCIIMask {
		return "<non-ascii>", nil
	}
	length, err := u.readI32(addr + uintptr(u.offsets.StringLengthOffset))
	if err != nil || length < 0 {
		return "", err
	}
	buf := make([]byte, length)
	if err := u.mem(buf, addr+uintptr(u.offsets.StringHeaderSize)); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (u *Unwinder) readPtr(addr uintptr) (uintptr, error) {
	var buf [addrSize]byte
	if err := u.mem(buf[:], addr); err != nil {
		return 0, err
	}
	return uintptr(binary.LittleEndian.Uint64(buf[:])), nil
}

func (u *Unwinder) readU8(addr uintptr) (byte, error) {
	var buf [1]byte
	if err := u.mem(buf[:], addr); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (u *Unwinder) readI32(addr uintptr) (int32, error) {
	var buf [4]byte
	if err := u.mem(buf[:], addr); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}
