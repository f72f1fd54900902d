// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Error taxonomy for the UPDI stack.

package updi

import "fmt"

// PhyErrorKind distinguishes physical-layer failures.
type PhyErrorKind int

const (
	PhyOpenFailed PhyErrorKind = iota
	PhyEchoLost
	PhyIOError
)

// PhyError is returned by the physical layer.
type PhyError struct {
	Op   string
	Kind PhyErrorKind
	Err  error
}

func (e *PhyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("updi: phy: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("updi: phy: %s", e.Op)
}

func (e *PhyError) Unwrap() error { return e.Err }

// LinkErrorKind distinguishes data-link-layer failures.
type LinkErrorKind int

const (
	LinkInitFailed LinkErrorKind = iota
	LinkNoAck
	LinkBadKeyLength
)

// LinkError is returned by the data-link layer.
type LinkError struct {
	Op   string
	Kind LinkErrorKind
}

func (e *LinkError) Error() string {
	switch e.Kind {
	case LinkInitFailed:
		return fmt.Sprintf("updi: link: %s: init failed after double break", e.Op)
	case LinkNoAck:
		return fmt.Sprintf("updi: link: %s: missing ACK", e.Op)
	case LinkBadKeyLength:
		return fmt.Sprintf("updi: link: %s: invalid key length", e.Op)
	default:
		return fmt.Sprintf("updi: link: %s", e.Op)
	}
}

// AppErrorKind distinguishes application-layer failures.
type AppErrorKind int

const (
	AppKeyNotAccepted AppErrorKind = iota
	AppResetAssertFailed
	AppEnterProgmodeTimeout
	AppDeviceLocked
	AppUnlockFailed
	AppNvmWriteError
	AppFlashReadyTimeout
)

// AppError is returned by the application layer.
type AppError struct {
	Op   string
	Kind AppErrorKind
}

func (e *AppError) Error() string {
	switch e.Kind {
	case AppKeyNotAccepted:
		return fmt.Sprintf("updi: app: %s: key not accepted by target", e.Op)
	case AppResetAssertFailed:
		return fmt.Sprintf("updi: app: %s: reset assert/release verification failed", e.Op)
	case AppEnterProgmodeTimeout:
		return fmt.Sprintf("updi: app: %s: timed out waiting for NVMPROG", e.Op)
	case AppDeviceLocked:
		return fmt.Sprintf("updi: app: %s: device reported locked", e.Op)
	case AppUnlockFailed:
		return fmt.Sprintf("updi: app: %s: failed to unlock device", e.Op)
	case AppNvmWriteError:
		return fmt.Sprintf("updi: app: %s: NVM controller reported write error", e.Op)
	case AppFlashReadyTimeout:
		return fmt.Sprintf("updi: app: %s: timed out waiting for flash ready", e.Op)
	default:
		return fmt.Sprintf("updi: app: %s", e.Op)
	}
}

// NvmErrorKind distinguishes NVM-programmer failures.
type NvmErrorKind int

const (
	NvmNotInProgmode NvmErrorKind = iota
	NvmUnaligned
	NvmImageTooLarge
	NvmRepeatTooLarge
	NvmFuseVerifyMismatch
	NvmInvalidPageSize
)

// NvmError is returned by the NVM programmer.
type NvmError struct {
	Op   string
	Kind NvmErrorKind
}

func (e *NvmError) Error() string {
	switch e.Kind {
	case NvmNotInProgmode:
		return fmt.Sprintf("updi: nvm: %s: not in programming mode", e.Op)
	case NvmUnaligned:
		return fmt.Sprintf("updi: nvm: %s: size is not page aligned", e.Op)
	case NvmImageTooLarge:
		return fmt.Sprintf("updi: nvm: %s: image larger than flash", e.Op)
	case NvmRepeatTooLarge:
		return fmt.Sprintf("updi: nvm: %s: repeat batch exceeds UPDI_MAX_REPEAT_SIZE", e.Op)
	case NvmFuseVerifyMismatch:
		return fmt.Sprintf("updi: nvm: %s: fuse verify mismatch", e.Op)
	case NvmInvalidPageSize:
		return fmt.Sprintf("updi: nvm: %s: flash page size is not a power of two", e.Op)
	default:
		return fmt.Sprintf("updi: nvm: %s", e.Op)
	}
}
