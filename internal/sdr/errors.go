package sdr

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceOpenFailed   = errors.New("device open failed")
	ErrFPGANotLoaded      = errors.New("FPGA not loaded")
	ErrParameterRejected  = errors.New("parameter rejected")
	ErrParameterMismatch  = errors.New("parameter mismatch")
	ErrAllocationFailed   = errors.New("allocation failed")
	ErrThreadCreateFailed = errors.New("streaming worker failed to start")
	ErrFileIO             = errors.New("file I/O failed")
	ErrNotOpen            = errors.New("device not open")
)

// Status codes reported by transfers. Values follow the transceiver
// library's negative error codes.
const (
	CodeUnexpected  = -1
	CodeRange       = -2
	CodeInval       = -3
	CodeMem         = -4
	CodeIO          = -5
	CodeTimeout     = -6
	CodeNoDev       = -7
	CodeUnsupported = -8
	CodeMisaligned  = -9

	// Engine-side terminations that never reach the hardware.
	CodeAborted = -20
	CodeSink    = -21
)

// CodeText describes a transfer status code.
func CodeText(code int) string {
	switch code {
	case 0:
		return "Success"
	case CodeUnexpected:
		return "An unexpected failure occurred"
	case CodeRange:
		return "Provided parameter is out of range"
	case CodeInval:
		return "Invalid operation or parameter"
	case CodeMem:
		return "A memory allocation error occurred"
	case CodeIO:
		return "File or device I/O failure"
	case CodeTimeout:
		return "Operation timed out"
	case CodeNoDev:
		return "No devices available"
	case CodeUnsupported:
		return "Operation not supported"
	case CodeMisaligned:
		return "Misaligned flash access"
	case CodeAborted:
		return "Stream aborted before start"
	case CodeSink:
		return "Capture sink failed"
	default:
		return fmt.Sprintf("Unknown error code %d", code)
	}
}

// TransferError is returned by a Transport when a bulk transfer fails.
type TransferError struct {
	Direction Direction
	Code      int
	Err       error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s transfer failed: %s", e.Direction, CodeText(e.Code))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// StatusCode extracts the transfer status code from err. Errors that carry
// no code map to CodeUnexpected; nil maps to 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var te *TransferError
	if errors.As(err, &te) && te.Code < 0 {
		return te.Code
	}
	return CodeUnexpected
}
