// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package deviceprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuiltin(t *testing.T) {
	p, ok := Get("tiny817")
	assert.True(t, ok)
	assert.Equal(t, uint32(0x8000), p.FlashStart)
	assert.Equal(t, V0, p.NVMVariant)
}

func TestGetUnknownDevice(t *testing.T) {
	_, ok := Get("does-not-exist")
	assert.False(t, ok)
}

func TestSupportedDevicesIncludesBuiltins(t *testing.T) {
	names := SupportedDevices()
	assert.Contains(t, names, "tiny817")
	assert.Contains(t, names, "avr128da48")
}

func TestAvrDxProfileUsesV1(t *testing.T) {
	p, ok := Get("avr128da48")
	assert.True(t, ok)
	assert.Equal(t, V1, p.NVMVariant)
	assert.Equal(t, "V1", p.NVMVariant.String())
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	doc := `
devices:
  - name: custom1
    flash_start: 0x8000
    flash_size: 16384
    flash_pagesize: 128
    nvmctrl_address: 0x1000
    syscfg_address: 0x0F00
    sigrow_address: 0x1100
    fuses_address: 0x1280
    userrow_address: 0x1300
    nvm_variant: V0
`
	assert.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	devices, err := Load(path)
	assert.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, "custom1", devices[0].Name)
	assert.Equal(t, uint32(0x8000), devices[0].FlashStart)
	assert.Equal(t, V0, devices[0].NVMVariant)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/profiles.yaml")
	assert.Error(t, err)
}
