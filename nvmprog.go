// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// NVM programmer: the top-level operations that turn "program this flash
// image" into a sequence of page operations. Ported from
// original_source/updi/nvm.py.

package updi

import (
	"fmt"
	"io"
	"log"

	"github.com/dswarbrick/go-updi/deviceprofile"
)

// PadByte is the value write_flash pads a partial final page with: the
// erased-flash value, so the unused tail of the last page is never
// programmed to anything meaningful.
const PadByte = 0xFF

// Mismatch records one verify failure location.
type Mismatch struct {
	Offset   int
	Expected byte
	Actual   byte
}

// VerifyReport summarizes a write-then-readback comparison. OK is false
// when Mismatches is non-empty; the operation itself is never aborted by a
// mismatch, only reported.
type VerifyReport struct {
	OK         bool
	Mismatches []Mismatch
}

// Programmer is the top-level NVM programmer. It owns the application
// layer and tracks whether the session is currently in programming mode.
type Programmer struct {
	app        *Application
	profile    *deviceprofile.DeviceProfile
	inProgmode bool
	logger     *log.Logger
}

// NewProgrammer opens a UPDI session against portName at baud, for the
// given device profile.
func NewProgrammer(portName string, baud int, profile deviceprofile.DeviceProfile) (*Programmer, error) {
	if !isPow2(profile.FlashPageSize) {
		return nil, &NvmError{Op: "new_programmer", Kind: NvmInvalidPageSize}
	}

	app, err := NewApplication(portName, baud, &profile)
	if err != nil {
		return nil, err
	}
	return &Programmer{
		app:     app,
		profile: &profile,
		logger:  log.New(io.Discard, "nvm: ", log.LstdFlags),
	}, nil
}

// SetLogger redirects diagnostic output for this layer and the layers it
// owns; nil disables it.
func (p *Programmer) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "nvm: ", log.LstdFlags)
	}
	p.logger = l
	p.app.SetLogger(l)
}

// Close releases the serial port. It does not leave programming mode;
// call LeaveProgmode first for that. Safe to call even if EnterProgmode
// was never called.
func (p *Programmer) Close() error {
	return p.app.Close()
}

// InProgmode reports whether the session believes it is in programming
// mode. This is a locally tracked flag, not a re-read of target state —
// callers that need ground truth should use GetDeviceInfo or EnterProgmode.
func (p *Programmer) InProgmode() bool {
	return p.inProgmode
}

// EnterProgmode enters NVM programming mode.
func (p *Programmer) EnterProgmode() error {
	if err := p.app.EnterProgmode(); err != nil {
		return err
	}
	p.inProgmode = true
	return nil
}

// LeaveProgmode leaves NVM programming mode.
func (p *Programmer) LeaveProgmode() error {
	if err := p.app.LeaveProgmode(); err != nil {
		return err
	}
	p.inProgmode = false
	return nil
}

// UnlockDevice performs a key-authorized chip erase on a locked device. A
// no-op if the session is already in programming mode. The unlock path
// leaves the device in programming mode.
func (p *Programmer) UnlockDevice() error {
	if p.inProgmode {
		return nil
	}
	if err := p.app.Unlock(); err != nil {
		return err
	}
	p.inProgmode = true
	return nil
}

func (p *Programmer) requireProgmode(op string) error {
	if !p.inProgmode {
		return &NvmError{Op: op, Kind: NvmNotInProgmode}
	}
	return nil
}

// ChipErase erases the whole chip. Requires programming mode.
func (p *Programmer) ChipErase() error {
	if err := p.requireProgmode("chip_erase"); err != nil {
		return err
	}
	return p.app.ChipErase()
}

// ReadFlash reads size bytes of flash starting at addr, page by page. size
// must be a multiple of the device's flash page size.
func (p *Programmer) ReadFlash(addr uint32, size int) ([]byte, error) {
	if err := p.requireProgmode("read_flash"); err != nil {
		return nil, err
	}
	pageSize := p.profile.FlashPageSize
	if size%pageSize != 0 {
		return nil, &NvmError{Op: "read_flash", Kind: NvmUnaligned}
	}

	pages := size / pageSize
	data := make([]byte, 0, size)
	for i := 0; i < pages; i++ {
		p.logger.Printf("reading page at %#06x", addr)
		page, err := p.app.ReadDataWords(uint16(addr), pageSize/2)
		if err != nil {
			return nil, err
		}
		data = append(data, page...)
		addr += uint32(pageSize)
	}
	return data, nil
}

// WriteFlash pads data to a full page, splits it into pages, and writes
// each page via the application layer's NVM write dispatch.
func (p *Programmer) WriteFlash(addr uint32, data []byte) error {
	if err := p.requireProgmode("write_flash"); err != nil {
		return err
	}
	if len(data) > p.profile.FlashSize {
		return &NvmError{Op: "write_flash", Kind: NvmImageTooLarge}
	}

	padded := padData(data, p.profile.FlashPageSize, PadByte)
	pages := pageData(padded, p.profile.FlashPageSize)

	for _, page := range pages {
		p.logger.Printf("writing page at %#06x", addr)
		if err := p.app.WriteNVM(uint16(addr), page); err != nil {
			return err
		}
		addr += uint32(len(page))
	}
	return nil
}

// VerifyFlash writes data then reads it back, reporting every mismatching
// offset. The write itself is not rolled back or retried on mismatch.
func (p *Programmer) VerifyFlash(addr uint32, data []byte) (VerifyReport, error) {
	if err := p.WriteFlash(addr, data); err != nil {
		return VerifyReport{}, err
	}
	readback, err := p.ReadFlash(addr, len(padData(data, p.profile.FlashPageSize, PadByte)))
	if err != nil {
		return VerifyReport{}, err
	}

	var report VerifyReport
	report.OK = true
	for i, want := range data {
		if i >= len(readback) {
			break
		}
		if readback[i] != want {
			report.OK = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				Offset: i, Expected: want, Actual: readback[i],
			})
		}
	}
	return report, nil
}

// ReadFuse reads one fuse value. Requires programming mode.
func (p *Programmer) ReadFuse(fuseNum int) (byte, error) {
	if err := p.requireProgmode("read_fuse"); err != nil {
		return 0, err
	}
	return p.app.dl.Ld(p.profile.FusesAddress + uint16(fuseNum))
}

// WriteFuse writes one fuse value through the NVM controller's
// address/data registers. Requires programming mode.
func (p *Programmer) WriteFuse(fuseNum int, value byte) error {
	if err := p.requireProgmode("write_fuse"); err != nil {
		return err
	}
	if err := p.app.WaitFlashReady(); err != nil {
		return err
	}

	fuseAddress := p.profile.FusesAddress + uint16(fuseNum)
	nvmBase := p.profile.NVMCtrlAddress

	if err := p.app.WriteData(nvmBase+nvmAddrL, []byte{byte(fuseAddress)}); err != nil {
		return err
	}
	if err := p.app.WriteData(nvmBase+nvmAddrH, []byte{byte(fuseAddress >> 8)}); err != nil {
		return err
	}
	if err := p.app.WriteData(nvmBase+nvmDataL, []byte{value}); err != nil {
		return err
	}
	return p.app.WriteData(nvmBase+nvmCtrlA, []byte{v0CmdWriteFuse})
}

// SetAndVerifyFuse writes a fuse then reads it back, returning an
// NvmError with kind NvmFuseVerifyMismatch (not a bare comparison) if the
// readback disagrees — ported from pyupdi.py::_set_fuse.
func (p *Programmer) SetAndVerifyFuse(fuseNum int, value byte) error {
	if err := p.WriteFuse(fuseNum, value); err != nil {
		return err
	}
	actual, err := p.ReadFuse(fuseNum)
	if err != nil {
		return err
	}
	if actual != value {
		return &NvmError{Op: fmt.Sprintf("write_fuse[%d]", fuseNum), Kind: NvmFuseVerifyMismatch}
	}
	return nil
}

// GetDeviceInfo reads device info via the application layer.
func (p *Programmer) GetDeviceInfo() (DeviceInfoReport, error) {
	return p.app.DeviceInfo()
}

// padData pads data to a multiple of blocksize with the given pad byte.
func padData(data []byte, blockSize int, pad byte) []byte {
	rem := len(data) % blockSize
	if rem == 0 {
		return data
	}
	out := make([]byte, len(data), len(data)+(blockSize-rem))
	copy(out, data)
	for i := rem; i < blockSize; i++ {
		out = append(out, pad)
	}
	return out
}

// pageData splits data (assumed already padded to a multiple of size)
// into pages, using integer ceil-div throughout.
func pageData(data []byte, size int) [][]byte {
	pages := (len(data) + size - 1) / size
	result := make([][]byte, 0, pages)
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		result = append(result, data[:n])
		data = data[n:]
	}
	return result
}
