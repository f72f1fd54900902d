// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Device parameter table, ported from original_source/device/device.py:
// a small built-in registry plus a YAML loader for profiles supplied by
// the caller. This package is a thin, optional convenience the reference
// CLI uses, not an attempt at an authoritative per-part database.

package deviceprofile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// NVMVariant tags which NVM-controller write algorithm a part uses.
type NVMVariant int

const (
	// V0 parts have a page buffer that must be cleared, filled, then
	// committed with a WRITE_PAGE command.
	V0 NVMVariant = iota
	// V1 (AVR-Dx) parts write words directly through the NVM controller.
	V1
)

func (v NVMVariant) String() string {
	if v == V1 {
		return "V1"
	}
	return "V0"
}

// DeviceProfile carries everything the core UPDI stack needs to know about
// a physical target. It is read-only once constructed.
type DeviceProfile struct {
	Name           string     `yaml:"name"`
	FlashStart     uint32     `yaml:"flash_start"`
	FlashSize      int        `yaml:"flash_size"`
	FlashPageSize  int        `yaml:"flash_pagesize"`
	NVMCtrlAddress uint16     `yaml:"nvmctrl_address"`
	SyscfgAddress  uint16     `yaml:"syscfg_address"`
	SigrowAddress  uint16     `yaml:"sigrow_address"`
	FusesAddress   uint16     `yaml:"fuses_address"`
	UserrowAddress uint16     `yaml:"userrow_address"`
	LockAddress    uint16     `yaml:"lock_address,omitempty"`
	NVMVariant     NVMVariant `yaml:"-"`
	NVMVariantName string     `yaml:"nvm_variant"`
}

// builtin mirrors original_source/device/device.py's tiny817/816/814/417
// table, plus one AVR-Dx-style V1 entry so the V1 write path has a home.
var builtin = map[string]DeviceProfile{
	"tiny817": {
		Name: "tiny817", FlashStart: 0x8000, FlashSize: 8 * 1024, FlashPageSize: 64,
		SyscfgAddress: 0x0F00, NVMCtrlAddress: 0x1000, SigrowAddress: 0x1100,
		FusesAddress: 0x1280, UserrowAddress: 0x1300, NVMVariant: V0,
	},
	"tiny816": {
		Name: "tiny816", FlashStart: 0x8000, FlashSize: 8 * 1024, FlashPageSize: 64,
		SyscfgAddress: 0x0F00, NVMCtrlAddress: 0x1000, SigrowAddress: 0x1100,
		FusesAddress: 0x1280, UserrowAddress: 0x1300, NVMVariant: V0,
	},
	"tiny814": {
		Name: "tiny814", FlashStart: 0x8000, FlashSize: 8 * 1024, FlashPageSize: 64,
		SyscfgAddress: 0x0F00, NVMCtrlAddress: 0x1000, SigrowAddress: 0x1100,
		FusesAddress: 0x1280, UserrowAddress: 0x1300, NVMVariant: V0,
	},
	"tiny417": {
		Name: "tiny417", FlashStart: 0x8000, FlashSize: 4 * 1024, FlashPageSize: 64,
		SyscfgAddress: 0x0F00, NVMCtrlAddress: 0x1000, SigrowAddress: 0x1100,
		FusesAddress: 0x1280, UserrowAddress: 0x1300, NVMVariant: V0,
	},
	// AVR-Dx style part: larger page, word-direct NVM writes, and a lock
	// register absent on the tinyAVR-1 family above.
	"avr128da48": {
		Name: "avr128da48", FlashStart: 0x800000, FlashSize: 128 * 1024, FlashPageSize: 128,
		SyscfgAddress: 0x0F00, NVMCtrlAddress: 0x1000, SigrowAddress: 0x1080,
		FusesAddress: 0x1050, UserrowAddress: 0x1100, LockAddress: 0x1040,
		NVMVariant: V1,
	},
}

// Get looks up a built-in device profile by name.
func Get(name string) (DeviceProfile, bool) {
	p, ok := builtin[name]
	return p, ok
}

// SupportedDevices lists the names accepted by Get.
func SupportedDevices() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	return names
}

// Load reads a YAML file of device profiles, in the same shape Get's
// built-in table uses.
func Load(path string) ([]DeviceProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deviceprofile: read %s: %w", path, err)
	}

	var doc struct {
		Devices []DeviceProfile `yaml:"devices"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("deviceprofile: parse %s: %w", path, err)
	}

	for i := range doc.Devices {
		if doc.Devices[i].NVMVariantName == "V1" {
			doc.Devices[i].NVMVariant = V1
		} else {
			doc.Devices[i].NVMVariant = V0
		}
	}
	return doc.Devices, nil
}
