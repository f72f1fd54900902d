// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// UPDI instruction opcode definitions.

package opcode

const (
	// Sync character that prefixes every UPDI instruction.
	Sync = 0x55

	// ACK byte returned by the target after store-type instructions.
	Ack = 0x40

	// Break is a 0x00 byte transmitted slowly enough to hold the line low
	// past the UPDI break threshold.
	Break = 0x00

	// MaxRepeatSize is the largest count REPEAT's 8-bit counter can hold.
	MaxRepeatSize = 255
)

// Opcode base values (bits 7:5 of the instruction byte).
const (
	LDS    = 0x00
	STS    = 0x40
	LD     = 0x20
	ST     = 0x60
	LDCS   = 0x80
	STCS   = 0xC0
	REPEAT = 0xA0
	KEY    = 0xE0
)

// Address-size and data-size flags, ORed into LDS/STS/LD/ST opcodes.
const (
	Address16 = 0x04
	Data8     = 0x00
	Data16    = 0x01
)

// Pointer-access modes, ORed into LD/ST opcodes.
const (
	PtrDirect  = 0x00
	PtrInc     = 0x04
	PtrAddress = 0x08
)

// REPEAT size flag.
const (
	RepeatByte = 0x00
	RepeatWord = 0x01
)

// KEY instruction flags.
const (
	KeySIB = 0x04
	KeyKey = 0x00

	Key64Bit  = 0x00
	Key128Bit = 0x01
)

// SIB request length (ASCII bytes).
const Sib16Bytes = 0x00

// LDCS/STCS frame builders. Each returns the bytes sent after SYNC has
// already been emitted by the caller — the data-link layer owns prefixing
// SYNC. Opcode definitions never themselves touch I/O.

// Ldcs returns the LDCS instruction byte for a control/status register.
func Ldcs(addr uint8) byte {
	return LDCS | (addr & 0x0F)
}

// Stcs returns the STCS instruction byte for a control/status register.
func Stcs(addr uint8) byte {
	return STCS | (addr & 0x0F)
}

// Lds returns the LDS instruction byte for a 16-bit address, 8 or 16-bit data.
func Lds(dataSize uint8) byte {
	return LDS | Address16 | dataSize
}

// Sts returns the STS instruction byte for a 16-bit address, 8 or 16-bit data.
func Sts(dataSize uint8) byte {
	return STS | Address16 | dataSize
}

// LdPtr returns the LD instruction byte for the given pointer mode/data size.
func LdPtr(ptrMode, dataSize uint8) byte {
	return LD | ptrMode | dataSize
}

// StPtr returns the ST instruction byte for the given pointer mode/data size.
func StPtr(ptrMode, dataSize uint8) byte {
	return ST | ptrMode | dataSize
}

// RepeatOp returns the REPEAT instruction byte for the given size flag.
func RepeatOp(size uint8) byte {
	return REPEAT | size
}

// KeyOp returns the KEY instruction byte for the given request/size flags.
func KeyOp(request, size uint8) byte {
	return KEY | request | size
}
