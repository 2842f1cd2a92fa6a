// internal/i2c/errors.go
package i2c

import "fmt"

// WriteError reports a failed register write with full bus context.
type WriteError struct {
	Bus   int
	Addr  uint16
	Reg   byte
	Data  []byte
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("i2c write failed (bus=%d addr=0x%02X reg=0x%02X data=% X): %v",
		e.Bus, e.Addr, e.Reg, e.Data, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

// ReadError reports a failed register read with full bus context.
type ReadError struct {
	Bus   int
	Addr  uint16
	Reg   byte
	Count int
	Cause error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("i2c read failed (bus=%d addr=0x%02X reg=0x%02X n=%d): %v",
		e.Bus, e.Addr, e.Reg, e.Count, e.Cause)
}

func (e *ReadError) Unwrap() error { return e.Cause }
