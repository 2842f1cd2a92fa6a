// internal/i2c/bus.go
package i2c

import (
	log "github.com/sirupsen/logrus"
)

// conn is the transport surface the register layer drives. *Conn
// implements it; tests substitute a fake through the open hook.
type conn interface {
	SetAddr(addr uint16) error
	Write(p []byte) error
	Transfer(addr uint16, w, r []byte) error
	Close() error
}

// Bus performs register-level transactions on one numbered bus. Every
// call acquires a fresh handle and releases it on all exit paths; there
// is no persistent handle between calls. Serialization is the caller's
// job (the controller gate).
type Bus struct {
	Number int

	// open overrides handle acquisition in tests. nil means Open.
	open func(bus int) (conn, error)
}

func (b Bus) dial() (conn, error) {
	if b.open != nil {
		return b.open(b.Number)
	}
	return Open(b.Number)
}

// WriteReg writes [reg, data...] to the device at addr.
func (b Bus) WriteReg(addr uint16, reg byte, data ...byte) error {
	c, err := b.dial()
	if err != nil {
		return b.writeFailed(addr, reg, data, err)
	}
	defer c.Close()

	if err := c.SetAddr(addr); err != nil {
		return b.writeFailed(addr, reg, data, err)
	}
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, reg)
	payload = append(payload, data...)
	if err := c.Write(payload); err != nil {
		return b.writeFailed(addr, reg, data, err)
	}
	return nil
}

// ReadReg writes the register pointer and reads back n bytes in one
// combined transaction.
func (b Bus) ReadReg(addr uint16, reg byte, n int) ([]byte, error) {
	c, err := b.dial()
	if err != nil {
		return nil, b.readFailed(addr, reg, n, err)
	}
	defer c.Close()

	buf := make([]byte, n)
	if err := c.Transfer(addr, []byte{reg}, buf); err != nil {
		return nil, b.readFailed(addr, reg, n, err)
	}
	return buf, nil
}

// UpdateReg reads reg, applies (value &^ clear) | set and writes the
// result back, returning the written value. The read and the write are
// two separate bus operations; callers must hold the gate so no other
// writer can interleave.
func (b Bus) UpdateReg(addr uint16, reg byte, clear, set byte) (byte, error) {
	cur, err := b.ReadReg(addr, reg, 1)
	if err != nil {
		return 0, err
	}
	v := (cur[0] &^ clear) | set
	if err := b.WriteReg(addr, reg, v); err != nil {
		return 0, err
	}
	return v, nil
}

func (b Bus) writeFailed(addr uint16, reg byte, data []byte, cause error) error {
	err := &WriteError{Bus: b.Number, Addr: addr, Reg: reg, Data: data, Cause: cause}
	log.Error(err)
	return err
}

func (b Bus) readFailed(addr uint16, reg byte, n int, cause error) error {
	err := &ReadError{Bus: b.Number, Addr: addr, Reg: reg, Count: n, Cause: cause}
	log.Error(err)
	return err
}
