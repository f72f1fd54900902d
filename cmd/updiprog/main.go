// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Go UPDI programmer reference implementation.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dswarbrick/go-updi"
	"github.com/dswarbrick/go-updi/deviceprofile"
)

func parseAddr(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func main() {
	fmt.Println("Go UPDI Programmer Reference Implementation")
	fmt.Printf("Built with %s on %s (%s)\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	port := flag.String("port", "", "serial port the UPDI adapter is attached to, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 115200, "baud rate")
	device := flag.String("device", "", "device profile name, e.g. tiny817")
	profilesFile := flag.String("profiles", "", "load additional device profiles from this YAML file")
	origin := flag.String("origin", "0x8000", "flash image origin address, hex")
	flashFile := flag.String("flash", "", "raw binary image to write to flash")
	readSize := flag.Int("read-flash", 0, "read this many bytes of flash and print as hex")
	erase := flag.Bool("erase", false, "chip erase before programming")
	unlock := flag.Bool("unlock", false, "unlock a locked device via key-authorized chip erase")
	readFuses := flag.Bool("read-fuses", false, "read and print all fuses")
	writeFuse := flag.String("write-fuse", "", "write one fuse, as NUM=VALUE (both decimal or 0x-prefixed hex)")
	info := flag.Bool("info", false, "print device info and exit")
	verbose := flag.Bool("verbose", false, "enable protocol-level logging")
	listDevices := flag.Bool("list-devices", false, "list built-in device profiles and exit")

	flag.Parse()

	if *listDevices {
		for _, name := range deviceprofile.SupportedDevices() {
			fmt.Println(name)
		}
		return
	}

	if *port == "" || *device == "" {
		fmt.Println("-port and -device are required")
		flag.PrintDefaults()
		os.Exit(1)
	}

	profile, ok := deviceprofile.Get(*device)
	if !ok && *profilesFile == "" {
		fmt.Printf("unknown device %q; pass -profiles to load a custom table or -list-devices to see built-ins\n", *device)
		os.Exit(1)
	}
	if !ok {
		loaded, err := deviceprofile.Load(*profilesFile)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		for _, p := range loaded {
			if p.Name == *device {
				profile = p
				ok = true
				break
			}
		}
		if !ok {
			fmt.Printf("device %q not found in %s\n", *device, *profilesFile)
			os.Exit(1)
		}
	}

	prog, err := updi.NewProgrammer(*port, *baud, profile)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer prog.Close()

	if *verbose {
		prog.SetLogger(log.New(os.Stderr, "", log.Lmicroseconds))
	} else {
		prog.SetLogger(log.New(io.Discard, "", 0))
	}

	if *info {
		printDeviceInfo(prog)
		return
	}

	if *unlock {
		if err := prog.UnlockDevice(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}
	if !prog.InProgmode() {
		if err := prog.EnterProgmode(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}
	defer prog.LeaveProgmode()

	if *erase {
		if err := prog.ChipErase(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	if *flashFile != "" {
		addr, err := parseAddr(*origin)
		if err != nil {
			fmt.Println("invalid -origin:", err)
			os.Exit(1)
		}
		data, err := os.ReadFile(*flashFile)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		report, err := prog.VerifyFlash(addr, data)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if !report.OK {
			fmt.Printf("verify failed: %d mismatches\n", len(report.Mismatches))
			for _, m := range report.Mismatches {
				fmt.Printf("  offset %#06x: wrote %#02x read %#02x\n", m.Offset, m.Expected, m.Actual)
			}
			os.Exit(1)
		}
		fmt.Printf("wrote and verified %s at %#06x\n", updi.FormatBytes(uint64(len(data))), addr)
	}

	if *readSize > 0 {
		addr, err := parseAddr(*origin)
		if err != nil {
			fmt.Println("invalid -origin:", err)
			os.Exit(1)
		}
		data, err := prog.ReadFlash(addr, *readSize)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("read %s from %#06x:\n", updi.FormatBytes(uint64(len(data))), addr)
		fmt.Printf("% X\n", data)
	}

	if *readFuses {
		for i := 0; i < 10; i++ {
			v, err := prog.ReadFuse(i)
			if err != nil {
				break
			}
			fmt.Printf("fuse %d: %#02x\n", i, v)
		}
	}

	if *writeFuse != "" {
		num, val, err := parseFuseArg(*writeFuse)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := prog.SetAndVerifyFuse(num, val); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("fuse %d set to %#02x\n", num, val)
	}
}

func printDeviceInfo(prog *updi.Programmer) {
	if err := prog.EnterProgmode(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer prog.LeaveProgmode()

	info, err := prog.GetDeviceInfo()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("Family:         %s\n", info.Family)
	fmt.Printf("NVM interface:  %s\n", info.NVMInterface)
	fmt.Printf("OCD revision:   %s\n", info.OCDRevision)
	fmt.Printf("PDI oscillator: %s\n", info.PDIOscillator)
	fmt.Printf("PDI revision:   %d\n", info.PDIRevision)
	if info.DeviceID != "" {
		fmt.Printf("Device ID:      %s\n", info.DeviceID)
		fmt.Printf("Device rev:     %s\n", info.DeviceRev)
	}
}

func parseFuseArg(s string) (int, byte, error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected NUM=VALUE, got %q", s)
	}
	num, err := strconv.ParseInt(parts[0], 0, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid fuse number %q", parts[0])
	}
	val, err := strconv.ParseUint(parts[1], 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid fuse value %q", parts[1])
	}
	return int(num), byte(val), nil
}
