// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Data-link layer: encodes the UPDI instruction set, enforces the SYNC
// prefix, checks ACKs, and drives the repeat counter. Ported from
// original_source/updi/link.py.

package updi

import (
	"io"
	"log"

	"github.com/dswarbrick/go-updi/opcode"
)

// Control/status register addresses in the 4-bit CS space (§4.3 register map).
const (
	csStatusA = 0x00
	csCtrlA   = 0x02
	csCtrlB   = 0x03

	csAsiKeyStatus = 0x07
	csAsiResetReq  = 0x08
	csAsiSysStatus = 0x0B
)

// Bit positions within CTRLA / CTRLB.
const (
	ctrlAIbdlyBit    = 7
	ctrlBUpdidisBit  = 2
	ctrlBCcdetdisBit = 3
)

// Key sizes, in the KEY instruction's size flag encoding.
const (
	Key64  = opcode.Key64Bit
	Key128 = opcode.Key128Bit
)

// Datalink is the UPDI data-link layer. It owns the physical connection.
type Datalink struct {
	phy       *Physical
	addr16bit bool // written by Set24BitAddressing (false after a "P:2" SIB response); not read
	logger    *log.Logger
}

// NewDatalink opens the physical layer and runs the init sequence,
// retrying once via a double break if the first attempt doesn't stick.
func NewDatalink(portName string, baud int) (*Datalink, error) {
	phy, err := OpenPhysical(portName, baud)
	if err != nil {
		return nil, err
	}
	dl := &Datalink{
		phy:    phy,
		logger: log.New(io.Discard, "link: ", log.LstdFlags),
	}
	if err := dl.init(); err != nil {
		phy.Close()
		return nil, err
	}
	if !dl.check() {
		if err := phy.SendDoubleBreak(); err != nil {
			phy.Close()
			return nil, err
		}
		if err := dl.init(); err != nil {
			phy.Close()
			return nil, err
		}
		if !dl.check() {
			phy.Close()
			return nil, &LinkError{Op: "init", Kind: LinkInitFailed}
		}
	}
	return dl, nil
}

// SetLogger redirects diagnostic output for both this layer and the PHY
// it owns; nil disables it.
func (dl *Datalink) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "link: ", log.LstdFlags)
	}
	dl.logger = l
	dl.phy.SetLogger(l)
}

// Close releases the underlying physical connection.
func (dl *Datalink) Close() error {
	return dl.phy.Close()
}

func (dl *Datalink) init() error {
	if err := dl.Stcs(csCtrlB, 1<<ctrlBCcdetdisBit); err != nil {
		return err
	}
	return dl.Stcs(csCtrlA, 1<<ctrlAIbdlyBit)
}

func (dl *Datalink) check() bool {
	status, err := dl.Ldcs(csStatusA)
	if err != nil {
		return false
	}
	ok := status != 0
	dl.logger.Printf("init check: statusA=%#02x ok=%v", status, ok)
	return ok
}

// Ldcs loads a control/status byte. If the PHY returns zero bytes, it
// yields 0x00, preserving the original's legacy "can't fail" behaviour.
func (dl *Datalink) Ldcs(addr uint8) (byte, error) {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.Ldcs(addr)}); err != nil {
		return 0, err
	}
	resp := dl.phy.Receive(1)
	if len(resp) != 1 {
		return 0, nil
	}
	return resp[0], nil
}

// Stcs stores a control/status byte. No ACK is read.
func (dl *Datalink) Stcs(addr uint8, value byte) error {
	return dl.phy.Send([]byte{opcode.Sync, opcode.Stcs(addr), value})
}

// Ld loads one byte from a 16-bit target address.
func (dl *Datalink) Ld(address uint16) (byte, error) {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.Lds(opcode.Data8), byte(address), byte(address >> 8)}); err != nil {
		return 0, err
	}
	resp := dl.phy.Receive(1)
	if len(resp) != 1 {
		return 0, &LinkError{Op: "ld", Kind: LinkNoAck}
	}
	return resp[0], nil
}

// Ld16 loads one little-endian word from a 16-bit target address.
func (dl *Datalink) Ld16(address uint16) ([]byte, error) {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.Lds(opcode.Data16), byte(address), byte(address >> 8)}); err != nil {
		return nil, err
	}
	resp := dl.phy.Receive(2)
	if len(resp) != 2 {
		return nil, &LinkError{Op: "ld16", Kind: LinkNoAck}
	}
	return resp, nil
}

func (dl *Datalink) expectAck(op string) error {
	resp := dl.phy.Receive(1)
	if len(resp) != 1 || resp[0] != opcode.Ack {
		return &LinkError{Op: op, Kind: LinkNoAck}
	}
	return nil
}

// St stores a byte to a 16-bit target address. Consumes two ACKs.
func (dl *Datalink) St(address uint16, value byte) error {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.Sts(opcode.Data8), byte(address), byte(address >> 8)}); err != nil {
		return err
	}
	if err := dl.expectAck("st"); err != nil {
		return err
	}
	if err := dl.phy.Send([]byte{value}); err != nil {
		return err
	}
	return dl.expectAck("st")
}

// St16 stores a little-endian word to a 16-bit target address. Consumes
// two ACKs.
func (dl *Datalink) St16(address uint16, value uint16) error {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.Sts(opcode.Data16), byte(address), byte(address >> 8)}); err != nil {
		return err
	}
	if err := dl.expectAck("st16"); err != nil {
		return err
	}
	if err := dl.phy.Send([]byte{byte(value), byte(value >> 8)}); err != nil {
		return err
	}
	return dl.expectAck("st16")
}

// StPtr sets the internal pointer register. Consumes one ACK.
func (dl *Datalink) StPtr(address uint16) error {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.StPtr(opcode.PtrAddress, opcode.Data16), byte(address), byte(address >> 8)}); err != nil {
		return err
	}
	return dl.expectAck("st_ptr")
}

// LdPtrInc reads n bytes from the pointer location with post-increment.
func (dl *Datalink) LdPtrInc(n int) ([]byte, error) {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.LdPtr(opcode.PtrInc, opcode.Data8)}); err != nil {
		return nil, err
	}
	return dl.phy.Receive(n), nil
}

// LdPtrInc16 reads words*2 bytes from the pointer location with
// post-increment.
func (dl *Datalink) LdPtrInc16(words int) ([]byte, error) {
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.LdPtr(opcode.PtrInc, opcode.Data16)}); err != nil {
		return nil, err
	}
	return dl.phy.Receive(words * 2), nil
}

// StPtrInc writes data to the pointer location with post-increment. The
// first byte is written with the opcode, the remainder one at a time;
// each write is followed by an ACK check.
func (dl *Datalink) StPtrInc(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.StPtr(opcode.PtrInc, opcode.Data8), data[0]}); err != nil {
		return err
	}
	if err := dl.expectAck("st_ptr_inc"); err != nil {
		return err
	}
	for _, b := range data[1:] {
		if err := dl.phy.Send([]byte{b}); err != nil {
			return err
		}
		if err := dl.expectAck("st_ptr_inc"); err != nil {
			return err
		}
	}
	return nil
}

// StPtrInc16 writes 2-byte words to the pointer location with
// post-increment, each chunk followed by an ACK check.
func (dl *Datalink) StPtrInc16(data []byte) error {
	if len(data) < 2 {
		return nil
	}
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.StPtr(opcode.PtrInc, opcode.Data16), data[0], data[1]}); err != nil {
		return err
	}
	if err := dl.expectAck("st_ptr_inc16"); err != nil {
		return err
	}
	for n := 2; n < len(data); n += 2 {
		if err := dl.phy.Send([]byte{data[n], data[n+1]}); err != nil {
			return err
		}
		if err := dl.expectAck("st_ptr_inc16"); err != nil {
			return err
		}
	}
	return nil
}

// Repeat loads the repeat counter with n-1 so the next LD/ST executes n
// times.
func (dl *Datalink) Repeat(n int) error {
	reps := uint16(n - 1)
	return dl.phy.Send([]byte{opcode.Sync, opcode.RepeatOp(opcode.RepeatWord), byte(reps), byte(reps >> 8)})
}

// ReadSIB delegates to the physical layer's SIB request.
func (dl *Datalink) ReadSIB() ([]byte, error) {
	return dl.phy.Sib()
}

// Key sends a key of the given size (Key64 or Key128). The key bytes are
// sent in reverse order (MSB last on the wire) as the protocol mandates.
func (dl *Datalink) Key(size uint8, key []byte) error {
	want := 8 << size
	if len(key) != want {
		return &LinkError{Op: "key", Kind: LinkBadKeyLength}
	}
	if err := dl.phy.Send([]byte{opcode.Sync, opcode.KeyOp(opcode.KeyKey, size)}); err != nil {
		return err
	}
	reversed := make([]byte, len(key))
	for i, b := range key {
		reversed[len(key)-1-i] = b
	}
	return dl.phy.Send(reversed)
}

// Set24BitAddressing records that the target reported "P:2" in its SIB
// (AVR-Dx / V1 devices). The flag is advisory only: no operation reads it,
// LDS/STS stay 16-bit, and V0 vs V1 NVM dispatch is decided by the device
// profile's NVMVariant, not by this flag.
func (dl *Datalink) Set24BitAddressing(v bool) {
	dl.addr16bit = !v
}
