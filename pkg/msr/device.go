//go:build linux

package msr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultRoot is where the msr kernel module exposes per-core nodes.
const DefaultRoot = "/dev/cpu"

// Device talks to /dev/cpu/<core>/msr. Each call opens, transfers 8 bytes
// at the register offset and closes the node again.
type Device struct {
	root  string
	reg   int64
	cores int
}

// NewDevice returns a Device for cfg. When cfg.Cores is unset the core
// count is discovered from cfg.Root. Privilege is not checked here; it
// surfaces as ErrPermissionDenied on the first transaction.
func NewDevice(cfg Config) (*Device, error) {
	root := cfg.Root
	if root == "" {
		root = DefaultRoot
	}
	cores := cfg.Cores
	if cores <= 0 {
		n, err := Discover(root)
		if err != nil {
			return nil, err
		}
		cores = n
	}
	return &Device{root: root, reg: int64(cfg.Register), cores: cores}, nil
}

// Discover counts the contiguous <root>/N/msr nodes starting at 0.
func Discover(root string) (int, error) {
	n := 0
	for {
		if _, err := os.Stat(nodePath(root, n)); err != nil {
			break
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no msr nodes under %s (modprobe msr)", ErrUnsupportedRegister, root)
	}
	return n, nil
}

func nodePath(root string, core int) string {
	return filepath.Join(root, strconv.Itoa(core), "msr")
}

// Cores implements Register.
func (d *Device) Cores() int { return d.cores }

// Read implements Register.
func (d *Device) Read(core int) (uint64, error) {
	if err := checkCore(core, d.cores); err != nil {
		return 0, err
	}
	fd, err := unix.Open(nodePath(d.root, core), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, &CoreError{Core: core, Op: "open", Err: classify(err)}
	}
	defer unix.Close(fd)

	var buf [8]byte
	n, err := unix.Pread(fd, buf[:], d.reg)
	if err != nil {
		return 0, &CoreError{Core: core, Op: "read", Err: classify(err)}
	}
	if n != len(buf) {
		return 0, &CoreError{Core: core, Op: "read", Err: fmt.Errorf("%w: %w", ErrUnsupportedRegister, io.ErrUnexpectedEOF)}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write implements Register.
func (d *Device) Write(core int, word uint64) error {
	if err := checkCore(core, d.cores); err != nil {
		return err
	}
	fd, err := unix.Open(nodePath(d.root, core), unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &CoreError{Core: core, Op: "open", Err: classify(err)}
	}
	defer unix.Close(fd)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	n, err := unix.Pwrite(fd, buf[:], d.reg)
	if err != nil {
		return &CoreError{Core: core, Op: "write", Err: classify(err)}
	}
	if n != len(buf) {
		return &CoreError{Core: core, Op: "write", Err: fmt.Errorf("%w: %w", ErrUnsupportedRegister, io.ErrShortWrite)}
	}
	return nil
}

// classify maps errno values onto the package sentinels, keeping the errno.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, unix.EIO),
		errors.Is(err, unix.ENOENT),
		errors.Is(err, unix.ENXIO),
		errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %w", ErrUnsupportedRegister, err)
	default:
		return err
	}
}
