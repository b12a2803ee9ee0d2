package reg

import (
	"sync/atomic"
	"unsafe"
)

// MMIO is the processor's own address space.  It is only meaningful when the
// program runs on the microcontroller, e.g. the monitor built with TinyGo.
// The atomic operations keep the compiler from caching or eliding accesses.
type MMIO struct{}

// Load reads the word at physical address addr
func (MMIO) Load(addr uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(uintptr(addr))))
}

// Store writes the word at physical address addr
func (MMIO) Store(addr uint32, value uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(uintptr(addr))), value)
}

// Window is a Bus over a byte slice that holds the device memory starting at
// Base, for example a region returned by Map.  Addresses outside the window
// panic, the same way a bus fault would stop the program on the target.
type Window struct {
	Base uint32
	Mem  []byte
}

func (w Window) word(addr uint32) *uint32 {
	off := addr - w.Base
	if addr < w.Base || uint64(off)+4 > uint64(len(w.Mem)) || off%4 != 0 {
		panic("reg: address outside mapped window")
	}
	return (*uint32)(unsafe.Pointer(&w.Mem[off]))
}

// Load reads the word at addr
func (w Window) Load(addr uint32) uint32 {
	return atomic.LoadUint32(w.word(addr))
}

// Store writes the word at addr
func (w Window) Store(addr uint32, value uint32) {
	atomic.StoreUint32(w.word(addr), value)
}

// Windows is a Bus over several Windows, for register blocks too far apart
// to map as one
type Windows []Window

func (ws Windows) find(addr uint32) Window {
	for _, w := range ws {
		if addr >= w.Base && uint64(addr)-uint64(w.Base) < uint64(len(w.Mem)) {
			return w
		}
	}
	panic("reg: address outside mapped windows")
}

// Load reads the word at addr from the window holding it
func (ws Windows) Load(addr uint32) uint32 {
	return ws.find(addr).Load(addr)
}

// Store writes the word at addr in the window holding it
func (ws Windows) Store(addr uint32, value uint32) {
	ws.find(addr).Store(addr, value)
}
