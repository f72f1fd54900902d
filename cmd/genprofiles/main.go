// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Device parameter table to YAML format converter. Reads a plain-text table
// of whitespace-separated fields (one device per line) and emits the YAML
// shape deviceprofile.Load expects.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/scanner"

	"gopkg.in/yaml.v2"
	"github.com/dswarbrick/go-updi/deviceprofile"
)

// fields, in column order: name flash_start flash_size flash_pagesize
// nvmctrl_address syscfg_address sigrow_address fuses_address
// userrow_address lock_address nvm_variant
const numFields = 11

type devicesDoc struct {
	Devices []deviceprofile.DeviceProfile `yaml:"devices"`
}

func parseTable(src io.Reader) ([]deviceprofile.DeviceProfile, error) {
	var s scanner.Scanner
	s.Init(src)
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	s.Whitespace ^= 1 << '\n' // don't skip newlines; they delimit rows

	devices := make([]deviceprofile.DeviceProfile, 0)
	row := make([]string, 0, numFields)

	flushRow := func() error {
		if len(row) == 0 {
			return nil
		}
		if len(row) != numFields {
			return fmt.Errorf("genprofiles: row %q has %d fields, want %d", row, len(row), numFields)
		}
		p, err := rowToProfile(row)
		if err != nil {
			return err
		}
		devices = append(devices, p)
		row = row[:0]
		return nil
	}

	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		text := s.TokenText()
		switch {
		case tok == '\n':
			if err := flushRow(); err != nil {
				return nil, err
			}
		default:
			row = append(row, text)
		}
	}
	if err := flushRow(); err != nil {
		return nil, err
	}
	return devices, nil
}

func rowToProfile(row []string) (deviceprofile.DeviceProfile, error) {
	var p deviceprofile.DeviceProfile
	var err error

	p.Name = row[0]
	if p.FlashStart, err = parseUint32(row[1]); err != nil {
		return p, err
	}
	if p.FlashSize, err = strconv.Atoi(row[2]); err != nil {
		return p, err
	}
	if p.FlashPageSize, err = strconv.Atoi(row[3]); err != nil {
		return p, err
	}
	if p.NVMCtrlAddress, err = parseUint16(row[4]); err != nil {
		return p, err
	}
	if p.SyscfgAddress, err = parseUint16(row[5]); err != nil {
		return p, err
	}
	if p.SigrowAddress, err = parseUint16(row[6]); err != nil {
		return p, err
	}
	if p.FusesAddress, err = parseUint16(row[7]); err != nil {
		return p, err
	}
	if p.UserrowAddress, err = parseUint16(row[8]); err != nil {
		return p, err
	}
	if p.LockAddress, err = parseUint16(row[9]); err != nil {
		return p, err
	}
	p.NVMVariantName = row[10]
	return p, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 32)
	return uint32(v), err
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 16)
	return uint16(v), err
}

func trimHex(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func main() {
	var (
		url, inFilename, outFilename string
		reader                       io.Reader
	)

	flag.StringVar(&url, "url", "", "fetch the device table from this URL instead of a local file")
	flag.StringVar(&inFilename, "in", "", "path to a local device parameter table")
	flag.StringVar(&outFilename, "out", "profiles.yaml", "output YAML filename")
	flag.Parse()

	if inFilename != "" {
		f, err := os.Open(inFilename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot read table: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		reader = f
	} else if url != "" {
		resp, err := http.Get(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot fetch table: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		reader = resp.Body
	} else {
		fmt.Fprintln(os.Stderr, "one of -in or -url is required")
		os.Exit(1)
	}

	devices, err := parseTable(reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("parsed %d device profiles\n", len(devices))

	destFile, err := os.Create(outFilename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create output: %v\n", err)
		os.Exit(1)
	}
	defer destFile.Close()

	enc := yaml.NewEncoder(destFile)
	if err := enc.Encode(devicesDoc{devices}); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding yaml: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\n", outFilename)
}
