// internal/i2c/conn.go
package i2c

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// ioctl requests from linux/i2c-dev.h. The i2c-dev kernel module must be
// loaded for /dev/i2c-* nodes to exist.
const (
	reqSlave = 0x0703 // I2C_SLAVE
	reqRdwr  = 0x0707 // I2C_RDWR
)

// i2c_msg flags from linux/i2c.h.
const flagRead = 0x0001 // I2C_M_RD

// i2cMsg mirrors struct i2c_msg. buf stays an unsafe.Pointer so the
// buffer it points at is reachable for the GC until the ioctl returns.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   unsafe.Pointer
}

// rdwrData mirrors struct i2c_rdwr_ioctl_data.
type rdwrData struct {
	msgs  unsafe.Pointer
	nmsgs uint32
}

// Conn is an open handle to one numbered bus. A handle belongs to exactly
// one logical transaction: opened, used, closed. It must never be used
// after Close, and an address must be set before any plain write.
type Conn struct {
	bus int
	f   *os.File
}

// Open opens /dev/i2c-<bus>.
func Open(bus int) (*Conn, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errutil.ErrBusUnavailable, "%s not present (load i2c-dev, check bus number)", path)
		}
		if os.IsPermission(err) {
			return nil, errors.Wrapf(errutil.ErrPermissionDenied, "%s (add user to the i2c group)", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &Conn{bus: bus, f: f}, nil
}

// SetAddr selects the target device for subsequent writes on this handle.
func (c *Conn) SetAddr(addr uint16) error {
	if c.f == nil {
		return errors.Wrapf(errutil.ErrInvalidState, "bus %d handle closed", c.bus)
	}
	return c.ioctl(reqSlave, uintptr(addr))
}

// Write sends raw bytes to the currently addressed device.
func (c *Conn) Write(p []byte) error {
	if c.f == nil {
		return errors.Wrapf(errutil.ErrInvalidState, "bus %d handle closed", c.bus)
	}
	_, err := c.f.Write(p)
	return err
}

// Transfer performs one write followed by one repeated-start read as a
// single bus transaction. Register reads need this: the pointer write and
// the read back must not be interrupted by another transaction. The
// uintptr conversion happens inside the Syscall expression and the
// buffers are kept alive past it, so nothing the kernel touches can be
// collected mid-ioctl.
func (c *Conn) Transfer(addr uint16, w, r []byte) error {
	if c.f == nil {
		return errors.Wrapf(errutil.ErrInvalidState, "bus %d handle closed", c.bus)
	}
	msgs := [2]i2cMsg{
		{addr: addr, flags: 0, len: uint16(len(w)), buf: unsafe.Pointer(&w[0])},
		{addr: addr, flags: flagRead, len: uint16(len(r)), buf: unsafe.Pointer(&r[0])},
	}
	data := rdwrData{msgs: unsafe.Pointer(&msgs[0]), nmsgs: 2}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.f.Fd(), reqRdwr, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(&msgs)
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	if errno != 0 {
		return errno
	}
	return nil
}

// Close releases the bus handle. Safe to call twice.
func (c *Conn) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

func (c *Conn) ioctl(req, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, c.f.Fd(), req, arg); errno != 0 {
		return errno
	}
	return nil
}
