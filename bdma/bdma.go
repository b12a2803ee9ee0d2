/*Package bdma controls the channels of the basic DMA controller in the D3
domain.

BDMA channels are a reduced stream: no FIFO, no bursts, no flow control.
Their flags share one status register, four bits per channel, with a global
flag that is set whenever any of the channel's other three flags are.  The
enum types of package dma are reused for the fields both controllers have.
*/
package bdma

import (
	"errors"
	"fmt"

	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/stm32h7"
)

// ErrUnmappedChannel is returned for a channel index outside 0-7
var ErrUnmappedChannel = errors.New("bdma: channel index outside 0-7")

const (
	regISR  = 0x00
	regIFCR = 0x04

	regCCR   = 0x00
	regCNDTR = 0x04
	regCPAR  = 0x08
	regCM0AR = 0x0C
	regCM1AR = 0x10
)

// CCR bits and field positions
const (
	ccrEN   = 1 << 0
	ccrTCIE = 1 << 1
	ccrHTIE = 1 << 2
	ccrTEIE = 1 << 3

	ccrDIRPos     = 4
	ccrCIRCPos    = 5
	ccrPINCPos    = 6
	ccrMINCPos    = 7
	ccrPSIZEPos   = 8
	ccrMSIZEPos   = 10
	ccrPLPos      = 12
	ccrMEM2MEMPos = 14
	ccrDBMPos     = 15
	ccrCTPos      = 16
)

// flag bits within a channel's group
const (
	flagGIF  = 0x1
	flagTCIF = 0x2
	flagHTIF = 0x4
	flagTEIF = 0x8

	groupWidth = 4
)

// Index is a channel number
type Index uint8

// Offset is the channel's register block offset from the controller base
func (i Index) Offset() uint32 {
	return stm32h7.BDMAChannelOffset + stm32h7.BDMAChannelStride*uint32(i)
}

func (i Index) String() string {
	return fmt.Sprintf("channel%d", uint8(i))
}

// Base is the address of the channel's register block
func (i Index) Base() uint32 {
	return stm32h7.BDMABase + i.Offset()
}

// Locate returns the bit offset of the channel's flag group in ISR/IFCR
func Locate(i Index) (uint32, error) {
	if i > 7 {
		return 0, fmt.Errorf("%w: %d", ErrUnmappedChannel, uint8(i))
	}
	return groupWidth * uint32(i), nil
}

// Config is a channel configuration.  The fields mean what they mean in
// dma.Config; MemoryToMemory sets MEM2MEM.
type Config struct {
	Direction           dma.Direction
	PeripheralSize      dma.DataSize
	PeripheralIncrement bool
	PeripheralAddress   uint32
	MemorySize          dma.DataSize
	MemoryIncrement     bool
	Memory0Address      uint32
	Memory1Address      uint32
	Count               int
	Priority            dma.Priority
	Circular            bool
	DoubleBuffer        bool
}

func (c Config) stream() dma.Config {
	return dma.Config{
		Direction:           c.Direction,
		PeripheralSize:      c.PeripheralSize,
		PeripheralIncrement: c.PeripheralIncrement,
		PeripheralAddress:   c.PeripheralAddress,
		MemorySize:          c.MemorySize,
		MemoryIncrement:     c.MemoryIncrement,
		Memory0Address:      c.Memory0Address,
		Memory1Address:      c.Memory1Address,
		Count:               c.Count,
		Priority:            c.Priority,
		Circular:            c.Circular,
		DoubleBuffer:        c.DoubleBuffer,
	}
}

// Validate applies the same field checks as dma.Config.Validate
func (c Config) Validate() error {
	return c.stream().Validate()
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Control returns the CCR value the configuration packs to, with EN, CT
// and the interrupt enables clear
func (c Config) Control() uint32 {
	var dir, m2m uint32
	switch c.Direction {
	case dma.MemoryToPeripheral:
		dir = 1
	case dma.MemoryToMemory:
		m2m = 1
	}
	return dir<<ccrDIRPos |
		bit(c.Circular)<<ccrCIRCPos |
		bit(c.PeripheralIncrement)<<ccrPINCPos |
		bit(c.MemoryIncrement)<<ccrMINCPos |
		uint32(c.PeripheralSize)&0b11<<ccrPSIZEPos |
		uint32(c.MemorySize)&0b11<<ccrMSIZEPos |
		uint32(c.Priority)&0b11<<ccrPLPos |
		m2m<<ccrMEM2MEMPos |
		bit(c.DoubleBuffer)<<ccrDBMPos
}

// enableBit maps a dma.Interrupt to its CCR enable bit and ISR flag.  BDMA
// has no FIFO or direct mode, so those kinds panic.
func enableBit(k dma.Interrupt) (enable, flag uint32) {
	switch k {
	case dma.TransferComplete:
		return ccrTCIE, flagTCIF
	case dma.HalfTransfer:
		return ccrHTIE, flagHTIF
	case dma.TransferError:
		return ccrTEIE, flagTEIF
	}
	panic(fmt.Sprintf("bdma: interrupt %s not available on BDMA", k))
}

// Interrupts lists the kinds a channel supports
var Interrupts = []dma.Interrupt{dma.TransferComplete, dma.HalfTransfer, dma.TransferError}

// Channel controls one BDMA channel
type Channel struct {
	index  Index
	cfg    Config
	offset uint32

	ccr, cndtr, cpar, cm0ar, cm1ar reg.Register
	isr, ifcr                      reg.Register
}

// New validates cfg and writes it to the channel, leaving it disabled with
// interrupts masked.  Nothing is written if validation fails.
func New(bus reg.Bus, i Index, cfg Config) (*Channel, error) {
	offset, err := Locate(i)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := i.Base()
	c := &Channel{
		index:  i,
		cfg:    cfg,
		offset: offset,
		ccr:    reg.At(bus, base+regCCR),
		cndtr:  reg.At(bus, base+regCNDTR),
		cpar:   reg.At(bus, base+regCPAR),
		cm0ar:  reg.At(bus, base+regCM0AR),
		cm1ar:  reg.At(bus, base+regCM1AR),
		isr:    reg.At(bus, stm32h7.BDMABase+regISR),
		ifcr:   reg.At(bus, stm32h7.BDMABase+regIFCR),
	}
	c.ccr.Write(cfg.Control())
	c.cpar.Write(cfg.PeripheralAddress)
	c.cm0ar.Write(cfg.Memory0Address)
	c.cm1ar.Write(cfg.Memory1Address)
	c.cndtr.Write(uint32(cfg.Count))
	return c, nil
}

// Index returns the channel number
func (c *Channel) Index() Index { return c.index }

// Config returns the configuration as last written
func (c *Channel) Config() Config { return c.cfg }

// Enable sets EN
func (c *Channel) Enable() { c.ccr.Set(ccrEN) }

// Disable clears EN
func (c *Channel) Disable() { c.ccr.Clear(ccrEN) }

// Enabled returns EN as read from hardware
func (c *Channel) Enabled() bool { return c.ccr.HasBits(ccrEN) }

// SetTargetMemory sets CT.  Only meaningful in double-buffer mode.
func (c *Channel) SetTargetMemory(t dma.Target) {
	if t > dma.Memory1 {
		panic(fmt.Sprintf("bdma: invalid memory target %d", uint8(t)))
	}
	c.ccr.Change(0b1, uint32(t), ccrCTPos)
}

// TargetMemory returns CT
func (c *Channel) TargetMemory() dma.Target {
	return dma.Target(c.ccr.Read(0b1, ccrCTPos))
}

// EnableInterrupt unmasks kinds with one read-modify-write of CCR
func (c *Channel) EnableInterrupt(kinds ...dma.Interrupt) {
	if m := enableMask(kinds); m != 0 {
		c.ccr.Set(m)
	}
}

// DisableInterrupt masks kinds with one read-modify-write of CCR
func (c *Channel) DisableInterrupt(kinds ...dma.Interrupt) {
	if m := enableMask(kinds); m != 0 {
		c.ccr.Clear(m)
	}
}

func enableMask(kinds []dma.Interrupt) uint32 {
	var m uint32
	for _, k := range kinds {
		e, _ := enableBit(k)
		m |= e
	}
	return m
}

// InterruptEnabled reads kind's enable bit
func (c *Channel) InterruptEnabled(kind dma.Interrupt) bool {
	e, _ := enableBit(kind)
	return c.ccr.HasBits(e)
}

// InterruptFlag reports whether kind is raised
func (c *Channel) InterruptFlag(kind dma.Interrupt) bool {
	_, f := enableBit(kind)
	return c.isr.Read(f, uint(c.offset)) != 0
}

// GlobalFlag reports GIF, set while any flag of the channel is
func (c *Channel) GlobalFlag() bool {
	return c.isr.Read(flagGIF, uint(c.offset)) != 0
}

// PendingFlags returns the raised kinds from one read of ISR
func (c *Channel) PendingFlags() []dma.Interrupt {
	group := c.isr.Get() >> c.offset
	var out []dma.Interrupt
	for _, k := range Interrupts {
		_, f := enableBit(k)
		if group&f != 0 {
			out = append(out, k)
		}
	}
	return out
}

// ClearInterruptFlag clears kinds with one write to IFCR.  GIF stays set
// while any other flag of the channel remains.
func (c *Channel) ClearInterruptFlag(kinds ...dma.Interrupt) {
	var m uint32
	for _, k := range kinds {
		_, f := enableBit(k)
		m |= f
	}
	if m != 0 {
		c.ifcr.Write(m << c.offset)
	}
}

// ClearAll clears every flag of the channel, GIF included
func (c *Channel) ClearAll() {
	c.ifcr.Write((flagGIF | flagTCIF | flagHTIF | flagTEIF) << c.offset)
}

// SetMemoryAddress rewrites CM0AR or CM1AR, under the same rules as
// dma.Stream.SetMemoryAddress
func (c *Channel) SetMemoryAddress(t dma.Target, addr uint32) error {
	field, r := "Memory0Address", c.cm0ar
	if t == dma.Memory1 {
		field, r = "Memory1Address", c.cm1ar
	} else if t != dma.Memory0 {
		panic(fmt.Sprintf("bdma: invalid memory target %d", uint8(t)))
	}
	if addr == 0 || addr%c.cfg.MemorySize.Bytes() != 0 {
		return &dma.ConfigError{Field: field, Reason: fmt.Sprintf("%#08x is zero or not aligned to %s", addr, c.cfg.MemorySize)}
	}
	if c.Enabled() && !(c.cfg.DoubleBuffer && t != c.TargetMemory()) {
		return fmt.Errorf("%w: %s %s is in use", dma.ErrStreamEnabled, c.index, t)
	}
	r.Write(addr)
	if t == dma.Memory0 {
		c.cfg.Memory0Address = addr
	} else {
		c.cfg.Memory1Address = addr
	}
	return nil
}

// SetCount rewrites CNDTR.  Only accepted by the hardware while disabled;
// an enabled channel gets dma.ErrStreamEnabled.
func (c *Channel) SetCount(n int) error {
	if n < 0 || n > dma.MaxCount {
		return &dma.ConfigError{Field: "Count", Reason: fmt.Sprintf("%d does not fit CNDTR (0-%d)", n, dma.MaxCount)}
	}
	if c.Enabled() {
		return fmt.Errorf("%w: %s CNDTR is read-only", dma.ErrStreamEnabled, c.index)
	}
	c.cndtr.Write(uint32(n))
	c.cfg.Count = n
	return nil
}

// Remaining returns CNDTR
func (c *Channel) Remaining() int {
	return int(c.cndtr.Read(dma.MaxCount, 0))
}
