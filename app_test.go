// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package updi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/go-updi/deviceprofile"
	"github.com/dswarbrick/go-updi/opcode"
)

func newTestApplication() (*Application, *fakeTransport) {
	dl, fake := newTestDatalink()
	profile, _ := deviceprofile.Get("tiny817")
	app := &Application{dl: dl, profile: &profile, logger: discardLogger("app")}
	return app, fake
}

func TestApplicationEnterProgmodeAlreadyActive(t *testing.T) {
	app, fake := newTestApplication()
	// sysStatus() check in InProgMode: NVMPROG bit already set.
	fake.queueResponse(1 << sysStatusNvmprog)

	err := app.EnterProgmode()
	assert.NoError(t, err)
}

func TestApplicationEnterProgmodeLockedFails(t *testing.T) {
	app, fake := newTestApplication()
	// InProgMode: not in prog mode. locked(): LOCKSTATUS set.
	fake.queueResponse(0x00, 1<<sysStatusLockstatus)

	err := app.EnterProgmode()
	assert.Error(t, err)
	var appErr *AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, AppDeviceLocked, appErr.Kind)
}

func TestApplicationEnterProgmodeFullSequence(t *testing.T) {
	app, fake := newTestApplication()
	fake.queueResponse(
		0x00,                // InProgMode (EnterProgmode): not yet
		0x00,                // locked(): not locked
		0x00,                // InProgMode (progmodeKey): still not yet, so the key is sent
		1<<keyStatusNvmprog, // key status after sending NVMProg key
		1<<sysStatusRstsys,  // Reset(true): assert verification
		0x00,                // Reset(false): RSTSYS clears, poll exits
		1<<sysStatusNvmprog, // final poll: NVMPROG now set
	)

	err := app.EnterProgmode()
	assert.NoError(t, err)
}

// TestApplicationUnlockFullSequence drives the key-authorized chip erase
// plus re-insertion of the NVMProg key that Unlock performs on a locked
// device.
func TestApplicationUnlockFullSequence(t *testing.T) {
	app, fake := newTestApplication()
	fake.queueResponse(
		1<<keyStatusChiperase, // key status after the NVMErase key
		0x00,                  // InProgMode (progmodeKey): not yet, so NVMProg key is sent
		1<<keyStatusNvmprog,   // key status after the NVMProg key
		1<<sysStatusRstsys,    // Reset(true): assert verification
		0x00,                  // Reset(false): RSTSYS clears
		0x00,                  // locked(): LOCKSTATUS clear
	)

	err := app.Unlock()
	assert.NoError(t, err)
}

// TestApplicationWriteNVMV0BatchedPageWrite drives writeNVMV0 with more than
// one word of data, exercising the StPtr/Repeat/StPtrInc16 batched transfer
// path rather than the single-word St16 shortcut.
func TestApplicationWriteNVMV0BatchedPageWrite(t *testing.T) {
	app, fake := newTestApplication() // tiny817 -> V0
	data := []byte{0x11, 0x22, 0x33, 0x44}
	fake.queueResponse(
		0x00,                   // WaitFlashReady before PAGE_BUFFER_CLR
		opcode.Ack, opcode.Ack, // PAGE_BUFFER_CLR command
		0x00,                   // WaitFlashReady before WriteDataWords
		opcode.Ack,             // StPtr
		opcode.Ack, opcode.Ack, // StPtrInc16: two word chunks
		opcode.Ack, opcode.Ack, // WRITE_PAGE command
		0x00,                   // WaitFlashReady after WRITE_PAGE
	)

	err := app.WriteNVM(uint16(app.profile.FlashStart), data)
	assert.NoError(t, err)
}

func TestApplicationWaitFlashReadyImmediate(t *testing.T) {
	app, fake := newTestApplication()
	fake.queueResponse(0x00) // neither FLASH_BUSY nor EEPROM_BUSY set

	err := app.WaitFlashReady()
	assert.NoError(t, err)
}

func TestApplicationWaitFlashReadyWriteError(t *testing.T) {
	app, fake := newTestApplication()
	fake.queueResponse(1 << nvmStatusWriteError)

	err := app.WaitFlashReady()
	assert.Error(t, err)
	var appErr *AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, AppNvmWriteError, appErr.Kind)
}

func TestApplicationDeviceInfoParsesSIB(t *testing.T) {
	app, fake := newTestApplication()
	// DeviceInfo reads the SIB first, then the StatusA byte; queue responses
	// in that order. InProgMode then reads sysStatus, which this test leaves
	// unqueued (Ldcs legacy-yields 0x00, so the device reports itself not in
	// programming mode and DeviceID/DeviceRev stay empty).
	//
	// Field layout: family[0:7] " " nvm[8:11] ocd[11:14] " " osc[15:19] ...
	sib := []byte("tinyAVR P:0OCD 20MHz            ") // padded to 32 bytes
	fake.queueResponse(sib...)
	fake.queueResponse(0x40)

	info, err := app.DeviceInfo()
	assert.NoError(t, err)
	assert.Equal(t, "tinyAVR", info.Family)
	assert.Equal(t, "P:0", info.NVMInterface)
	assert.Equal(t, uint8(0x04), info.PDIRevision)
}
