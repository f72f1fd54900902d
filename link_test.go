// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package updi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dswarbrick/go-updi/opcode"
)

func newTestDatalink() (*Datalink, *fakeTransport) {
	p, fake := newTestPhysical()
	dl := &Datalink{phy: p, logger: discardLogger("link")}
	return dl, fake
}

func TestDatalinkLdcsZeroBytesYieldsZero(t *testing.T) {
	dl, _ := newTestDatalink()
	// No response queued: PHY Receive returns 0 bytes, Ldcs must yield 0x00
	// rather than error (legacy "can't fail" behaviour).
	v, err := dl.Ldcs(csStatusA)
	assert.NoError(t, err)
	assert.Equal(t, byte(0), v)
}

func TestDatalinkLdcsReadsStatus(t *testing.T) {
	dl, fake := newTestDatalink()
	fake.queueResponse(0x03)

	v, err := dl.Ldcs(csStatusA)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x03), v)
	assert.Equal(t, []byte{opcode.Sync, opcode.Ldcs(csStatusA)}, fake.writes[0])
}

func TestDatalinkStMissingAckFails(t *testing.T) {
	dl, _ := newTestDatalink()
	err := dl.St(0x1000, 0xAA)
	assert.Error(t, err)
	var linkErr *LinkError
	assert.ErrorAs(t, err, &linkErr)
	assert.Equal(t, LinkNoAck, linkErr.Kind)
}

func TestDatalinkStSendsTwoChunksAndConsumesTwoAcks(t *testing.T) {
	dl, fake := newTestDatalink()
	fake.queueResponse(opcode.Ack, opcode.Ack)

	err := dl.St(0x1000, 0xAA)
	assert.NoError(t, err)
	assert.Len(t, fake.writes, 2)
	assert.Equal(t, []byte{opcode.Sync, opcode.Sts(opcode.Data8), 0x00, 0x10}, fake.writes[0])
	assert.Equal(t, []byte{0xAA}, fake.writes[1])
}

func TestDatalinkKeyRejectsWrongLength(t *testing.T) {
	dl, _ := newTestDatalink()
	err := dl.Key(Key64, []byte("short"))
	assert.Error(t, err)
	var linkErr *LinkError
	assert.ErrorAs(t, err, &linkErr)
	assert.Equal(t, LinkBadKeyLength, linkErr.Kind)
}

func TestDatalinkKeySendsReversedBytes(t *testing.T) {
	dl, fake := newTestDatalink()
	key := []byte("NVMProg ")

	err := dl.Key(Key64, key)
	assert.NoError(t, err)
	assert.Len(t, fake.writes, 2)
	assert.Equal(t, []byte{opcode.Sync, opcode.KeyOp(opcode.KeyKey, Key64)}, fake.writes[0])

	reversed := make([]byte, len(key))
	for i, b := range key {
		reversed[len(key)-1-i] = b
	}
	assert.Equal(t, reversed, fake.writes[1])
}

func TestDatalinkRepeatEncodesNMinusOne(t *testing.T) {
	dl, fake := newTestDatalink()
	err := dl.Repeat(4)
	assert.NoError(t, err)
	assert.Equal(t, []byte{opcode.Sync, opcode.RepeatOp(opcode.RepeatWord), 0x03, 0x00}, fake.writes[0])
}
