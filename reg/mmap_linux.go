package reg

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps size bytes of physical memory at base through /dev/mem and returns
// a Window over them and a function that unmaps it.  This is how a Linux host
// with the same DMA block (e.g. an STM32MP1) reaches the registers.
// base must be page aligned.
func Map(base uint32, size int) (Window, func() error, error) {
	if int(base)%unix.Getpagesize() != 0 {
		return Window{}, nil, fmt.Errorf("reg: base %#08x is not page aligned", base)
	}
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return Window{}, nil, err
	}
	defer f.Close()
	mem, err := unix.Mmap(int(f.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return Window{}, nil, fmt.Errorf("reg: mmap /dev/mem at %#08x: %w", base, err)
	}
	unmap := func() error { return unix.Munmap(mem) }
	return Window{Base: base, Mem: mem}, unmap, nil
}
