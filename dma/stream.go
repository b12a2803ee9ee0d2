package dma

import (
	"fmt"

	"github.com/nasa-jpl/h7dma/reg"
)

// stream register offsets from the stream block
const (
	regCR   = 0x00
	regNDTR = 0x04
	regPAR  = 0x08
	regM0AR = 0x0C
	regM1AR = 0x10
	regFCR  = 0x14
)

// controller register offsets from the controller base
const (
	regLISR  = 0x00
	regHISR  = 0x04
	regLIFCR = 0x08
	regHIFCR = 0x0C
)

// CR bits and field positions
const (
	crEN    = 1 << 0
	crDMEIE = 1 << 1
	crTEIE  = 1 << 2
	crHTIE  = 1 << 3
	crTCIE  = 1 << 4

	crPFCTRLPos = 5
	crDIRPos    = 6
	crCIRCPos   = 8
	crPINCPos   = 9
	crMINCPos   = 10
	crPSIZEPos  = 11
	crMSIZEPos  = 13
	crPINCOSPos = 15
	crPLPos     = 16
	crDBMPos    = 18
	crCTPos     = 19
	crTRBUFFPos = 20
	crPBURSTPos = 21
	crMBURSTPos = 23
)

// FCR bits and field positions
const (
	fcrFTHPos = 0
	fcrDMDIS  = 1 << 2
	fcrFSPos  = 3
	fcrFEIE   = 1 << 7

	// fcrReset is FCR after reset: direct mode, FIFO empty, half threshold
	fcrReset = 0x0000_0021
)

// MaxCount is the largest transfer length NDTR can hold
const MaxCount = 0xFFFF

// Identity is a controller and a stream index
type Identity struct {
	Controller Controller
	Stream     StreamIndex
}

// Base is the address of the stream's register block
func (id Identity) Base() uint32 {
	return uint32(id.Controller) + id.Stream.Offset()
}

func (id Identity) String() string {
	return fmt.Sprintf("%s %s", id.Controller, id.Stream)
}

// Validate checks the controller and stream index
func (id Identity) Validate() error {
	if id.Controller != DMA1 && id.Controller != DMA2 {
		return invalid("Controller", "%#08x is not DMA1 or DMA2", uint32(id.Controller))
	}
	if _, _, err := Locate(id.Stream); err != nil {
		return err
	}
	return nil
}

// Config is a transfer configuration.  The zero value of every field after
// Count is the hardware default.
type Config struct {
	Direction           Direction
	PeripheralSize      DataSize
	PeripheralIncrement bool
	PeripheralAddress   uint32
	MemorySize          DataSize
	MemoryIncrement     bool
	Memory0Address      uint32

	// Memory1Address is only used in double-buffer mode and may be zero otherwise
	Memory1Address uint32

	// Count is the number of data items, 0-65535
	Count int

	Priority          Priority
	Circular          bool
	IncrementOffset   IncrementOffset
	DoubleBuffer      bool
	BufferedTransfers bool
	FlowController    FlowController
	PeripheralBurst   BurstSize
	MemoryBurst       BurstSize
}

// Validate checks field ranges and address alignment.  It does not check
// whether a combination of valid fields makes sense to the hardware.
func (c Config) Validate() error {
	switch {
	case c.Direction > MemoryToMemory:
		return invalid("Direction", "%d is not a transfer direction", uint8(c.Direction))
	case c.PeripheralSize > Word:
		return invalid("PeripheralSize", "%d is not a data size", uint8(c.PeripheralSize))
	case c.MemorySize > Word:
		return invalid("MemorySize", "%d is not a data size", uint8(c.MemorySize))
	case c.Priority > VeryHigh:
		return invalid("Priority", "%d is not a priority level", uint8(c.Priority))
	case c.IncrementOffset > OffsetWord:
		return invalid("IncrementOffset", "%d is not an increment offset", uint8(c.IncrementOffset))
	case c.FlowController > FlowPeripheral:
		return invalid("FlowController", "%d is not a flow controller", uint8(c.FlowController))
	case c.PeripheralBurst > Incremental16:
		return invalid("PeripheralBurst", "%d is not a burst size", uint8(c.PeripheralBurst))
	case c.MemoryBurst > Incremental16:
		return invalid("MemoryBurst", "%d is not a burst size", uint8(c.MemoryBurst))
	}
	if err := checkCount(c.Count); err != nil {
		return err
	}
	if err := checkAddress("PeripheralAddress", c.PeripheralAddress, c.PeripheralSize); err != nil {
		return err
	}
	if err := checkAddress("Memory0Address", c.Memory0Address, c.MemorySize); err != nil {
		return err
	}
	if c.DoubleBuffer {
		if err := checkAddress("Memory1Address", c.Memory1Address, c.MemorySize); err != nil {
			return err
		}
	} else if c.Memory1Address%c.MemorySize.Bytes() != 0 {
		return invalid("Memory1Address", "%#08x is not aligned to %s", c.Memory1Address, c.MemorySize)
	}
	return nil
}

func checkCount(n int) error {
	if n < 0 || n > MaxCount {
		return invalid("Count", "%d does not fit NDTR (0-%d)", n, MaxCount)
	}
	return nil
}

func checkAddress(field string, addr uint32, size DataSize) error {
	if addr == 0 {
		return invalid(field, "is zero")
	}
	if addr%size.Bytes() != 0 {
		return invalid(field, "%#08x is not aligned to %s", addr, size)
	}
	return nil
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Control returns the CR value the configuration packs to.  EN, CT and the
// interrupt enables are always clear.
func (c Config) Control() uint32 {
	return uint32(c.FlowController)&0b1<<crPFCTRLPos |
		uint32(c.Direction)&0b11<<crDIRPos |
		bit(c.Circular)<<crCIRCPos |
		bit(c.PeripheralIncrement)<<crPINCPos |
		bit(c.MemoryIncrement)<<crMINCPos |
		uint32(c.PeripheralSize)&0b11<<crPSIZEPos |
		uint32(c.MemorySize)&0b11<<crMSIZEPos |
		uint32(c.IncrementOffset)&0b1<<crPINCOSPos |
		uint32(c.Priority)&0b11<<crPLPos |
		bit(c.DoubleBuffer)<<crDBMPos |
		bit(c.BufferedTransfers)<<crTRBUFFPos |
		uint32(c.PeripheralBurst)&0b11<<crPBURSTPos |
		uint32(c.MemoryBurst)&0b11<<crMBURSTPos
}

// Stream controls one DMA stream.  It addresses hardware registers it does
// not own; two Streams for the same Identity alias the same hardware.
type Stream struct {
	id  Identity
	cfg Config

	cr, ndtr, par, m0ar, m1ar, fcr reg.Register

	// status and clear registers holding this stream's flag group
	isr, ifcr reg.Register
	offset    uint32
}

// New validates cfg and writes it to the stream's registers, leaving the
// stream disabled with all interrupts masked.  CR is replaced in a single
// write, which also clears any EN or CT bit left from earlier use.  Nothing is
// written if validation fails.
//
// The stream must not be enabled when New is called; the hardware ignores
// writes to most CR fields while EN is set.
func New(bus reg.Bus, id Identity, cfg Config) (*Stream, error) {
	s, err := Open(bus, id, cfg)
	if err != nil {
		return nil, err
	}
	s.cr.Write(cfg.Control())
	s.par.Write(cfg.PeripheralAddress)
	s.m0ar.Write(cfg.Memory0Address)
	s.m1ar.Write(cfg.Memory1Address)
	s.ndtr.Write(uint32(cfg.Count))
	return s, nil
}

// Open returns a Stream for hardware already configured with cfg, by New in
// another process for example.  It validates like New and writes nothing.
func Open(bus reg.Bus, id Identity, cfg Config) (*Stream, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	group, offset, _ := Locate(id.Stream)
	base := id.Base()
	ctrl := uint32(id.Controller)
	return &Stream{
		id:     id,
		cfg:    cfg,
		cr:     reg.At(bus, base+regCR),
		ndtr:   reg.At(bus, base+regNDTR),
		par:    reg.At(bus, base+regPAR),
		m0ar:   reg.At(bus, base+regM0AR),
		m1ar:   reg.At(bus, base+regM1AR),
		fcr:    reg.At(bus, base+regFCR),
		isr:    reg.At(bus, ctrl+group.statusOffset()),
		ifcr:   reg.At(bus, ctrl+group.clearOffset()),
		offset: offset,
	}, nil
}

// Identity returns the controller and stream index
func (s *Stream) Identity() Identity {
	return s.id
}

// Config returns the configuration as last written by this Stream.  Writes
// refused by SetCount or SetMemoryAddress do not change it.
func (s *Stream) Config() Config {
	return s.cfg
}

// Enable sets EN, starting the stream
func (s *Stream) Enable() {
	s.cr.Set(crEN)
}

// Disable clears EN.  The hardware finishes the current beat or burst before
// EN reads back as 0; poll Enabled to know when the stream has stopped.
func (s *Stream) Disable() {
	s.cr.Clear(crEN)
}

// Enabled returns EN as read from hardware
func (s *Stream) Enabled() bool {
	return s.cr.HasBits(crEN)
}

// SetTargetMemory selects the memory buffer used next in double-buffer mode.
// On a stream configured without DoubleBuffer the hardware ignores CT and
// this is a no-op in effect, though the bit is still written.
func (s *Stream) SetTargetMemory(t Target) {
	t.mustValid()
	s.cr.Change(0b1, uint32(t), crCTPos)
}

// TargetMemory returns CT.  In double-buffer mode the hardware toggles it at
// the end of every transfer.
func (s *Stream) TargetMemory() Target {
	return Target(s.cr.Read(0b1, crCTPos))
}

// EnableInterrupt unmasks the given kinds.  FIFOError is set in FCR right
// away; the others are gathered into one read-modify-write of CR.  Calling it
// with a set is equivalent to calling it once per member.
func (s *Stream) EnableInterrupt(kinds ...Interrupt) {
	s.maskInterrupts(kinds, true)
}

// DisableInterrupt masks the given kinds, batched like EnableInterrupt
func (s *Stream) DisableInterrupt(kinds ...Interrupt) {
	s.maskInterrupts(kinds, false)
}

func (s *Stream) maskInterrupts(kinds []Interrupt, enable bool) {
	for _, k := range kinds {
		k.enableBit() // reject unknown kinds before touching hardware
	}
	var mask uint32
	for _, k := range kinds {
		b, inFCR := k.enableBit()
		if !inFCR {
			mask |= b
			continue
		}
		if enable {
			s.fcr.Set(b)
		} else {
			s.fcr.Clear(b)
		}
	}
	if mask == 0 {
		return
	}
	if enable {
		s.cr.Set(mask)
	} else {
		s.cr.Clear(mask)
	}
}

// InterruptEnabled reports whether kind is unmasked, read from hardware
func (s *Stream) InterruptEnabled(kind Interrupt) bool {
	b, inFCR := kind.enableBit()
	if inFCR {
		return s.fcr.HasBits(b)
	}
	return s.cr.HasBits(b)
}

// ClearInterruptFlag clears the given flags with one write to the stream's
// clear register.  Bits written as zero have no effect on the hardware.
func (s *Stream) ClearInterruptFlag(kinds ...Interrupt) {
	var mask uint32
	for _, k := range kinds {
		k.enableBit()
		mask |= uint32(k) << s.offset
	}
	if mask != 0 {
		s.ifcr.Write(mask)
	}
}

// InterruptFlag reports whether the hardware has raised kind for this stream
func (s *Stream) InterruptFlag(kind Interrupt) bool {
	kind.enableBit()
	return s.isr.Read(uint32(kind), uint(s.offset)) != 0
}

// PendingFlags returns every raised flag, reading the status register once
func (s *Stream) PendingFlags() []Interrupt {
	group := s.isr.Get() >> s.offset
	var out []Interrupt
	for _, k := range Interrupts {
		if group&uint32(k) != 0 {
			out = append(out, k)
		}
	}
	return out
}

// SetFifoThreshold sets FTH.  The threshold only matters with direct mode
// disabled.
func (s *Stream) SetFifoThreshold(t Threshold) {
	t.mustValid()
	s.fcr.Change(0b11, uint32(t), fcrFTHPos)
}

// FifoThreshold returns FTH
func (s *Stream) FifoThreshold() Threshold {
	return Threshold(s.fcr.Read(0b11, fcrFTHPos))
}

// FifoStatus returns FS
func (s *Stream) FifoStatus() FifoStatus {
	return FifoStatus(s.fcr.Read(0b111, fcrFSPos))
}

// SetDirectMode turns direct mode on (FIFO bypassed) or off (FIFO used with
// the configured threshold).  Memory-to-memory transfers always use the FIFO.
func (s *Stream) SetDirectMode(direct bool) {
	if direct {
		s.fcr.Clear(fcrDMDIS)
	} else {
		s.fcr.Set(fcrDMDIS)
	}
}

// DirectMode reports whether the FIFO is bypassed
func (s *Stream) DirectMode() bool {
	return !s.fcr.HasBits(fcrDMDIS)
}

// SetMemoryAddress rewrites M0AR or M1AR.  The hardware accepts it while the
// stream is disabled, or in double-buffer mode for the buffer not currently
// targeted; otherwise ErrStreamEnabled is returned and nothing is written.
func (s *Stream) SetMemoryAddress(t Target, addr uint32) error {
	t.mustValid()
	field := "Memory0Address"
	if t == Memory1 {
		field = "Memory1Address"
	}
	if err := checkAddress(field, addr, s.cfg.MemorySize); err != nil {
		return err
	}
	if s.Enabled() && !(s.cfg.DoubleBuffer && t != s.TargetMemory()) {
		return fmt.Errorf("%w: %s %s is in use", ErrStreamEnabled, s.id, t)
	}
	if t == Memory0 {
		s.m0ar.Write(addr)
		s.cfg.Memory0Address = addr
	} else {
		s.m1ar.Write(addr)
		s.cfg.Memory1Address = addr
	}
	return nil
}

// SetCount rewrites NDTR.  The hardware only accepts it while the stream is
// disabled, so an enabled stream gets ErrStreamEnabled.
func (s *Stream) SetCount(n int) error {
	if err := checkCount(n); err != nil {
		return err
	}
	if s.Enabled() {
		return fmt.Errorf("%w: %s NDTR is read-only", ErrStreamEnabled, s.id)
	}
	s.ndtr.Write(uint32(n))
	s.cfg.Count = n
	return nil
}

// Remaining returns the number of items left to transfer, from NDTR
func (s *Stream) Remaining() int {
	return int(s.ndtr.Read(MaxCount, 0))
}
