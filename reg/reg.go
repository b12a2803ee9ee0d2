/*Package reg provides access to 32-bit memory-mapped registers.

Registers are reached through a Bus, which may be the processor's own address
space (MMIO), a window of device memory mapped into a Linux process (Map), a
simulated register file (package regsim), or a debug monitor on the far end
of a serial, TCP, or USB link (package comm).

A Register is a handle to a fixed address on a Bus.  It does not own the
memory behind it and holds no state of its own:

	cr := reg.At(bus, 0x40020010)
	cr.Set(1 << 0)                // OR
	cr.Clear(1 << 4)              // AND-NOT
	cr.Change(0b11, 0b10, 16)     // replace bits 16-17
	pl := cr.Read(0b11, 16)       // extract bits 16-17

Every method is a single load, a single store, or one load followed by one
store.  Read-modify-write sequences are not atomic with respect to other
execution contexts touching the same register.
*/
package reg

// Bus loads and stores aligned 32-bit words.
type Bus interface {
	// Load returns the word at addr
	Load(addr uint32) uint32

	// Store writes value to the word at addr
	Store(addr uint32, value uint32)
}

// BitSetter is implemented by buses that can set or clear bits on the target
// in one transaction instead of a Load/Store pair.  Remote buses implement it
// so the read-modify-write happens next to the hardware.
type BitSetter interface {
	SetBits(addr uint32, mask uint32)
	ClearBits(addr uint32, mask uint32)
}

// Register is a handle to one register on a Bus
type Register struct {
	bus  Bus
	addr uint32
}

// At returns a handle to the register at addr on bus
func At(bus Bus, addr uint32) Register {
	return Register{bus: bus, addr: addr}
}

// Addr returns the address of the register
func (r Register) Addr() uint32 {
	return r.addr
}

// Get returns the full register value
func (r Register) Get() uint32 {
	return r.bus.Load(r.addr)
}

// Write replaces the full register value
func (r Register) Write(value uint32) {
	r.bus.Store(r.addr, value)
}

// Read returns the field selected by mask after shifting it down by shift.
// mask is given right-aligned, e.g. 0b111 for a 3-bit field.
func (r Register) Read(mask uint32, shift uint) uint32 {
	return (r.Get() & (mask << shift)) >> shift
}

// Set ORs mask into the register
func (r Register) Set(mask uint32) {
	if bs, ok := r.bus.(BitSetter); ok {
		bs.SetBits(r.addr, mask)
		return
	}
	r.bus.Store(r.addr, r.bus.Load(r.addr)|mask)
}

// Clear clears the bits of mask in the register
func (r Register) Clear(mask uint32) {
	if bs, ok := r.bus.(BitSetter); ok {
		bs.ClearBits(r.addr, mask)
		return
	}
	r.bus.Store(r.addr, r.bus.Load(r.addr)&^mask)
}

// Change replaces the field selected by mask at shift with value.
// Bits of value outside mask are discarded.
func (r Register) Change(mask, value uint32, shift uint) {
	v := r.bus.Load(r.addr)
	v = (v &^ (mask << shift)) | ((value & mask) << shift)
	r.bus.Store(r.addr, v)
}

// Toggle inverts the bits of mask in the register
func (r Register) Toggle(mask uint32) {
	r.bus.Store(r.addr, r.bus.Load(r.addr)^mask)
}

// HasBits returns true if every bit of mask is set
func (r Register) HasBits(mask uint32) bool {
	return r.Get()&mask == mask
}
