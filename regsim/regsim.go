/*Package regsim is a simulated register file that satisfies reg.Bus.

Unconfigured addresses behave like RAM.  Hardware behavior is layered on per
address:

	ReadOnly        bits software cannot change (status fields)
	WriteOneToClear a write-only register whose 1 bits clear another register
	OnStore         a hook run after every software store, used to model
	                hardware reacting to a control register

Assert and Poke change registers the way hardware does, bypassing the
read-only masks and the access log.

A Bus is safe for concurrent use.
*/
package regsim

import (
	"fmt"
	"sort"
	"sync"
)

// Op is the kind of a logged access
type Op int

const (
	// Load is a software read
	Load Op = iota

	// Store is a software write
	Store
)

func (o Op) String() string {
	if o == Store {
		return "store"
	}
	return "load"
}

// Access is one logged software access.  It prints with 8 hex digits per word.
type Access struct {
	Op    Op
	Addr  uint32
	Value uint32
}

func (a Access) String() string {
	return fmt.Sprintf("%s 0x%08x 0x%08x", a.Op, a.Addr, a.Value)
}

// Hook is called after a software store to addr, with the value held before
// and after the store.  It runs without the bus lock held and may call any
// method of the bus.
type Hook func(b *Bus, addr, before, after uint32)

// Bus is a simulated register file
type Bus struct {
	mu       sync.Mutex
	words    map[uint32]uint32
	readOnly map[uint32]uint32
	w1c      map[uint32]uint32 // clear register -> status register
	hooks    map[uint32][]Hook
	log      []Access
	logging  bool
}

// New returns an empty Bus with access logging enabled
func New() *Bus {
	return &Bus{
		words:    make(map[uint32]uint32),
		readOnly: make(map[uint32]uint32),
		w1c:      make(map[uint32]uint32),
		hooks:    make(map[uint32][]Hook),
		logging:  true,
	}
}

// ReadOnly marks the bits of mask at addr as not writable by software
func (b *Bus) ReadOnly(addr, mask uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly[addr] |= mask
}

// WriteOneToClear makes clearAddr a write-only register whose 1 bits clear the
// same bits of statusAddr.  Writing 0 has no effect and clearAddr reads as 0.
// statusAddr becomes fully read-only to software.
func (b *Bus) WriteOneToClear(clearAddr, statusAddr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.w1c[clearAddr] = statusAddr
	b.readOnly[statusAddr] = 0xFFFF_FFFF
}

// OnStore registers a hook for stores to addr
func (b *Bus) OnStore(addr uint32, h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[addr] = append(b.hooks[addr], h)
}

// Load implements reg.Bus
func (b *Bus) Load(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.words[addr]
	if _, ok := b.w1c[addr]; ok {
		v = 0
	}
	b.record(Load, addr, v)
	return v
}

// Store implements reg.Bus
func (b *Bus) Store(addr uint32, value uint32) {
	b.mu.Lock()
	b.record(Store, addr, value)
	before := b.words[addr]
	if status, ok := b.w1c[addr]; ok {
		b.words[status] &^= value
	} else {
		ro := b.readOnly[addr]
		b.words[addr] = (before & ro) | (value &^ ro)
	}
	after := b.words[addr]
	hooks := b.hooks[addr]
	b.mu.Unlock()

	for _, h := range hooks {
		h(b, addr, before, after)
	}
}

func (b *Bus) record(op Op, addr, value uint32) {
	if b.logging {
		b.log = append(b.log, Access{Op: op, Addr: addr, Value: value})
	}
}

// Assert sets bits at addr the way hardware would, ignoring read-only masks
func (b *Bus) Assert(addr, mask uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.words[addr] |= mask
}

// Deassert clears bits at addr the way hardware would
func (b *Bus) Deassert(addr, mask uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.words[addr] &^= mask
}

// Poke replaces the word at addr without logging or read-only masking
func (b *Bus) Poke(addr, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.words[addr] = value
}

// Peek returns the word at addr without logging
func (b *Bus) Peek(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.words[addr]
}

// Accesses returns a copy of the access log
func (b *Bus) Accesses() []Access {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Access, len(b.log))
	copy(out, b.log)
	return out
}

// Stores returns the logged stores to addr, in order
func (b *Bus) Stores(addr uint32) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint32
	for _, a := range b.log {
		if a.Op == Store && a.Addr == addr {
			out = append(out, a.Value)
		}
	}
	return out
}

// ResetLog empties the access log
func (b *Bus) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// SetLogging turns the access log on or off.  Long-running simulations
// (dmasrv with a sim target) turn it off so the log does not grow forever.
func (b *Bus) SetLogging(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logging = on
}

// Snapshot returns every non-zero word, keyed by address
func (b *Bus) Snapshot() map[uint32]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint32]uint32, len(b.words))
	for k, v := range b.words {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Dump formats Snapshot sorted by address, one register per line
func (b *Bus) Dump() string {
	snap := b.Snapshot()
	addrs := make([]uint32, 0, len(snap))
	for a := range snap {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	s := ""
	for _, a := range addrs {
		s += fmt.Sprintf("0x%08x: 0x%08x\n", a, snap[a])
	}
	return s
}
