// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package updi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/go-updi/deviceprofile"
	"github.com/dswarbrick/go-updi/opcode"
)

func TestPadDataNoOpOnExactMultiple(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	out := padData(data, 4, PadByte)
	assert.Equal(t, data, out)
}

func TestPadDataPadsShortRemainder(t *testing.T) {
	data := []byte{1, 2, 3}
	out := padData(data, 4, PadByte)
	assert.Equal(t, []byte{1, 2, 3, PadByte}, out)
}

func TestPageDataSplitsWithShortFinalPage(t *testing.T) {
	data := make([]byte, 10)
	pages := pageData(data, 4)
	assert.Len(t, pages, 3)
	assert.Len(t, pages[0], 4)
	assert.Len(t, pages[1], 4)
	assert.Len(t, pages[2], 2)
}

func newTestProgrammer(profile deviceprofile.DeviceProfile) (*Programmer, *fakeTransport) {
	app, fake := newTestApplication()
	app.profile = &profile
	return &Programmer{app: app, profile: &profile, logger: discardLogger("nvm")}, fake
}

func TestNewProgrammerRejectsInvalidPageSize(t *testing.T) {
	profile, _ := deviceprofile.Get("tiny817")
	profile.FlashPageSize = 100 // not a power of two

	_, err := NewProgrammer("/dev/null", 115200, profile)
	assert.Error(t, err)
	var nvmErr *NvmError
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmInvalidPageSize, nvmErr.Kind)
}

func TestProgrammerOperationsRequireProgmode(t *testing.T) {
	profile, _ := deviceprofile.Get("tiny817")
	p, _ := newTestProgrammer(profile)

	_, err := p.ReadFlash(profile.FlashStart, profile.FlashPageSize)
	assert.Error(t, err)
	var nvmErr *NvmError
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmNotInProgmode, nvmErr.Kind)

	err = p.WriteFlash(profile.FlashStart, []byte{0x01})
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmNotInProgmode, nvmErr.Kind)

	err = p.ChipErase()
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmNotInProgmode, nvmErr.Kind)
}

func TestProgrammerReadFlashRejectsUnalignedSize(t *testing.T) {
	profile, _ := deviceprofile.Get("tiny817")
	p, _ := newTestProgrammer(profile)
	p.inProgmode = true

	_, err := p.ReadFlash(profile.FlashStart, profile.FlashPageSize+1)
	assert.Error(t, err)
	var nvmErr *NvmError
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmUnaligned, nvmErr.Kind)
}

func TestProgrammerWriteFlashRejectsOversizedImage(t *testing.T) {
	profile, _ := deviceprofile.Get("tiny817")
	p, _ := newTestProgrammer(profile)
	p.inProgmode = true

	err := p.WriteFlash(profile.FlashStart, make([]byte, profile.FlashSize+1))
	assert.Error(t, err)
	var nvmErr *NvmError
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmImageTooLarge, nvmErr.Kind)
}

// TestProgrammerWriteFlashV1SinglePage drives one full WriteFlash call for a
// V1 (AVR-Dx style) device whose page size is exactly one word, so the
// write takes the simple (non-batched) St16 path. The queued status and ACK
// bytes follow that sequence step for step; the test checks that the write
// completes without error.
func TestProgrammerWriteFlashV1SinglePage(t *testing.T) {
	profile := deviceprofile.DeviceProfile{
		Name: "test-v1", FlashStart: 0x8000, FlashSize: 2, FlashPageSize: 2,
		NVMCtrlAddress: 0x1000, NVMVariant: deviceprofile.V1,
	}
	p, fake := newTestProgrammer(profile)
	p.inProgmode = true

	fake.queueResponse(
		0x00,             // WaitFlashReady (writeNVMV1 entry)
		opcode.Ack, opcode.Ack, // ExecuteNVMCommand(v1CmdFlashWrite)
		opcode.Ack, opcode.Ack, // WriteDataWords len==2 -> St16
		0x00,             // WaitFlashReady
		opcode.Ack, opcode.Ack, // ExecuteNVMCommand(v1CmdNoCmd)
	)

	err := p.WriteFlash(0x8000, []byte{0xAA, 0xBB})
	assert.NoError(t, err)
}

// TestProgrammerVerifyFlashReportsMismatch drives a full write-then-readback
// cycle where the readback deliberately disagrees with what was written, and
// checks that VerifyFlash reports the exact offset/expected/actual triple
// without itself returning an error.
func TestProgrammerVerifyFlashReportsMismatch(t *testing.T) {
	profile := deviceprofile.DeviceProfile{
		Name: "test-v1", FlashStart: 0x8000, FlashSize: 2, FlashPageSize: 2,
		NVMCtrlAddress: 0x1000, NVMVariant: deviceprofile.V1,
	}
	p, fake := newTestProgrammer(profile)
	p.inProgmode = true

	fake.queueResponse(
		0x00,                   // WaitFlashReady (writeNVMV1 entry)
		opcode.Ack, opcode.Ack, // ExecuteNVMCommand(v1CmdFlashWrite)
		opcode.Ack, opcode.Ack, // WriteDataWords len==2 -> St16
		0x00,                   // WaitFlashReady
		opcode.Ack, opcode.Ack, // ExecuteNVMCommand(v1CmdNoCmd)
		opcode.Ack,             // ReadDataWords: StPtr
		0xAA, 0x99,             // readback: second byte deliberately wrong
	)

	report, err := p.VerifyFlash(0x8000, []byte{0xAA, 0xBB})
	assert.NoError(t, err)
	assert.False(t, report.OK)
	assert.Len(t, report.Mismatches, 1)
	assert.Equal(t, Mismatch{Offset: 1, Expected: 0xBB, Actual: 0x99}, report.Mismatches[0])
}

func TestProgrammerSetAndVerifyFuseMismatch(t *testing.T) {
	profile, _ := deviceprofile.Get("tiny817")
	p, fake := newTestProgrammer(profile)
	p.inProgmode = true

	fake.queueResponse(
		0x00,                   // WaitFlashReady before write_fuse
		opcode.Ack, opcode.Ack, // WriteData addrL
		opcode.Ack, opcode.Ack, // WriteData addrH
		opcode.Ack, opcode.Ack, // WriteData dataL
		opcode.Ack, opcode.Ack, // WriteData CTRLA (WRITE_FUSE command)
		0x99,                   // ReadFuse readback - deliberately wrong
	)

	err := p.SetAndVerifyFuse(2, 0x42)
	assert.Error(t, err)
	var nvmErr *NvmError
	assert.ErrorAs(t, err, &nvmErr)
	assert.Equal(t, NvmFuseVerifyMismatch, nvmErr.Kind)
}
