// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Physical layer: owns the serial port, frames bytes, and hides the
// half-duplex echo. Ported from original_source/updi/physical.py.

package updi

import (
	"io"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/dswarbrick/go-updi/opcode"
)

const (
	workingStopBits   = serial.TwoStopBits
	breakBaud         = 300
	breakStopBits     = serial.OneStopBit
	serialReadTimeout = 1 * time.Second
)

// transport is the narrow surface Physical needs from a serial port. A real
// go.bug.st/serial.Port satisfies it structurally; tests substitute a fake.
type transport interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
}

// dialFunc opens a named port with the given mode. Overridable in tests.
type dialFunc func(name string, mode *serial.Mode) (transport, error)

func defaultDial(name string, mode *serial.Mode) (transport, error) {
	return serial.Open(name, mode)
}

// Physical drives the half-duplex UPDI wire over a standard serial port.
type Physical struct {
	portName string
	baud     int
	port     transport
	dial     dialFunc
	logger   *log.Logger
}

// OpenPhysical opens the serial device at the given baud rate (8 data bits,
// even parity, 2 stop bits) and sends one BREAK byte as an initial handshake.
func OpenPhysical(portName string, baud int) (*Physical, error) {
	p := &Physical{
		portName: portName,
		baud:     baud,
		dial:     defaultDial,
		logger:   log.New(io.Discard, "phy: ", log.LstdFlags),
	}
	if err := p.initSerial(portName, baud); err != nil {
		return nil, err
	}
	if err := p.Send([]byte{opcode.Break}); err != nil {
		p.port.Close()
		return nil, err
	}
	return p, nil
}

// SetLogger redirects diagnostic output; nil disables it.
func (p *Physical) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "phy: ", log.LstdFlags)
	}
	p.logger = l
}

func (p *Physical) initSerial(portName string, baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.EvenParity,
		DataBits: 8,
		StopBits: workingStopBits,
	}
	p.logger.Printf("opening %s at %d baud", portName, baud)
	port, err := p.dial(portName, mode)
	if err != nil {
		return &PhyError{Op: "open", Kind: PhyOpenFailed, Err: err}
	}
	if rt, ok := port.(interface{ SetReadTimeout(time.Duration) error }); ok {
		_ = rt.SetReadTimeout(serialReadTimeout)
	}
	p.port = port
	return nil
}

// Send writes the entire buffer, then reads back and discards exactly
// len(bytes) bytes of echo before returning.
func (p *Physical) Send(data []byte) error {
	p.logger.Printf("send % X", data)
	if _, err := p.port.Write(data); err != nil {
		return &PhyError{Op: "send", Kind: PhyIOError, Err: err}
	}

	got := 0
	buf := make([]byte, len(data))
	for got < len(data) {
		n, err := p.port.Read(buf[got:])
		if err != nil {
			return &PhyError{Op: "send", Kind: PhyIOError, Err: err}
		}
		if n == 0 {
			return &PhyError{Op: "send", Kind: PhyEchoLost}
		}
		got += n
	}
	return nil
}

// Receive reads up to size bytes, one read attempt at a time. An empty read
// decrements a retry counter (starting at 1); it never blocks indefinitely.
func (p *Physical) Receive(size int) []byte {
	response := make([]byte, 0, size)
	retries := 1
	buf := make([]byte, size)

	for len(response) < size && retries > 0 {
		n, err := p.port.Read(buf)
		if err != nil || n == 0 {
			retries--
			continue
		}
		response = append(response, buf[:n]...)
	}
	p.logger.Printf("receive % X", response)
	return response
}

// SendDoubleBreak closes the port, reopens it at 300 baud with one stop
// bit, writes two BREAK bytes (each ~33ms low, above the ~24.6ms UPDI
// minimum), reads the two echoes, then reopens at the working baud rate.
func (p *Physical) SendDoubleBreak() error {
	p.logger.Printf("sending double break")

	p.port.Close()

	breakMode := &serial.Mode{
		BaudRate: breakBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: breakStopBits,
	}
	brk, err := p.dial(p.portName, breakMode)
	if err != nil {
		return &PhyError{Op: "send_double_break", Kind: PhyOpenFailed, Err: err}
	}
	if _, err := brk.Write([]byte{opcode.Break, opcode.Break}); err != nil {
		brk.Close()
		return &PhyError{Op: "send_double_break", Kind: PhyIOError, Err: err}
	}
	echo := make([]byte, 2)
	io.ReadFull(brk, echo) // best-effort; the break condition itself is what matters
	brk.Close()

	return p.initSerial(p.portName, p.baud)
}

// sibSize is the length of the flat ASCII System Information Block the
// target returns: 7-byte family, space, 3-byte NVM interface, 3-byte OCD
// revision, space, 4-byte PDI oscillator, and further reserved fields.
const sibSize = 32

// Sib sends SYNC + (KEY | SIB | 16BYTES) and reads the fixed-width System
// Information Block string returned by the target.
func (p *Physical) Sib() ([]byte, error) {
	if err := p.Send([]byte{
		opcode.Sync,
		opcode.KeyOp(opcode.KeySIB, opcode.Sib16Bytes),
	}); err != nil {
		return nil, err
	}
	return p.Receive(sibSize), nil
}

// Close releases the underlying serial port.
func (p *Physical) Close() error {
	return p.port.Close()
}
