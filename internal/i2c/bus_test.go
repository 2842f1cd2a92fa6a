// internal/i2c/bus_test.go
package i2c

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

type fakeConn struct {
	addr   uint16
	regs   map[byte]byte
	writes [][]byte
	closes int

	failWrite    error
	failTransfer error
}

func newFakeConn() *fakeConn {
	return &fakeConn{regs: map[byte]byte{}}
}

func (f *fakeConn) SetAddr(addr uint16) error { f.addr = addr; return nil }

func (f *fakeConn) Write(p []byte) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	reg := p[0]
	for i, b := range p[1:] {
		f.regs[reg+byte(i)] = b
	}
	return nil
}

func (f *fakeConn) Transfer(addr uint16, w, r []byte) error {
	if f.failTransfer != nil {
		return f.failTransfer
	}
	reg := w[0]
	for i := range r {
		r[i] = f.regs[reg+byte(i)]
	}
	return nil
}

func (f *fakeConn) Close() error { f.closes++; return nil }

func testBus(fc *fakeConn) Bus {
	return Bus{Number: 1, open: func(int) (conn, error) { return fc, nil }}
}

func TestWriteReg_Payload(t *testing.T) {
	fc := newFakeConn()
	b := testBus(fc)

	if err := b.WriteReg(0x5A, 0x04, 0x10, 0x05); err != nil {
		t.Fatalf("WriteReg err=%v", err)
	}
	if fc.addr != 0x5A {
		t.Fatalf("addr=0x%02X, want 0x5A", fc.addr)
	}
	if len(fc.writes) != 1 || !bytes.Equal(fc.writes[0], []byte{0x04, 0x10, 0x05}) {
		t.Fatalf("payload=%v, want [04 10 05]", fc.writes)
	}
	if fc.closes != 1 {
		t.Fatalf("closes=%d, want 1", fc.closes)
	}
}

func TestReadReg_RoundTrip(t *testing.T) {
	fc := newFakeConn()
	fc.regs[0x0D] = 11
	fc.regs[0x0E] = 22
	b := testBus(fc)

	got, err := b.ReadReg(0x5A, 0x0D, 2)
	if err != nil {
		t.Fatalf("ReadReg err=%v", err)
	}
	if !bytes.Equal(got, []byte{11, 22}) {
		t.Fatalf("got=%v, want [11 22]", got)
	}
}

func TestUpdateReg_MaskMath(t *testing.T) {
	cases := []struct{ prior, clear, set byte }{
		{0x00, 0x00, 0x40},
		{0xFF, 0x40, 0x00},
		{0xA5, 0x0F, 0x06},
		{0x40, 0x47, 0x06},
	}
	for _, tc := range cases {
		fc := newFakeConn()
		fc.regs[0x01] = tc.prior
		b := testBus(fc)

		got, err := b.UpdateReg(0x5A, 0x01, tc.clear, tc.set)
		if err != nil {
			t.Fatalf("UpdateReg err=%v", err)
		}
		want := (tc.prior &^ tc.clear) | tc.set
		if got != want {
			t.Fatalf("prior=0x%02X clear=0x%02X set=0x%02X: got=0x%02X want=0x%02X",
				tc.prior, tc.clear, tc.set, got, want)
		}
		if fc.regs[0x01] != want {
			t.Fatalf("register readback=0x%02X, want 0x%02X", fc.regs[0x01], want)
		}
	}
}

func TestWriteReg_ErrorContext(t *testing.T) {
	fc := newFakeConn()
	fc.failWrite = errors.New("EIO")
	b := testBus(fc)

	err := b.WriteReg(0x5A, 0x0C, 0x01)
	if err == nil {
		t.Fatal("expected error")
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error %T is not *WriteError", err)
	}
	if we.Bus != 1 || we.Addr != 0x5A || we.Reg != 0x0C {
		t.Fatalf("context bus=%d addr=0x%02X reg=0x%02X", we.Bus, we.Addr, we.Reg)
	}
	if fc.closes != 1 {
		t.Fatalf("handle not released on error path, closes=%d", fc.closes)
	}
}

func TestReadReg_OpenFailurePropagates(t *testing.T) {
	b := Bus{Number: 9, open: func(int) (conn, error) {
		return nil, errutil.ErrBusUnavailable
	}}

	_, err := b.ReadReg(0x5A, 0x00, 1)
	if !errors.Is(err, errutil.ErrBusUnavailable) {
		t.Fatalf("err=%v, want ErrBusUnavailable", err)
	}
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("error %T is not *ReadError", err)
	}
}
