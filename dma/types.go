package dma

import (
	"fmt"
	"strings"

	"github.com/nasa-jpl/h7dma/stm32h7"
)

// Controller is a DMA controller, identified by its base address
type Controller uint32

const (
	// DMA1 is the first general purpose DMA controller
	DMA1 Controller = stm32h7.DMA1Base

	// DMA2 is the second general purpose DMA controller
	DMA2 Controller = stm32h7.DMA2Base
)

func (c Controller) String() string {
	switch c {
	case DMA1:
		return "DMA1"
	case DMA2:
		return "DMA2"
	}
	return fmt.Sprintf("Controller(%#08x)", uint32(c))
}

// StreamIndex is the index of a stream within its controller
type StreamIndex uint8

// the eight streams of a controller
const (
	Stream0 StreamIndex = iota
	Stream1
	Stream2
	Stream3
	Stream4
	Stream5
	Stream6
	Stream7
)

// Offset is the offset of the stream's register block from the controller base
func (s StreamIndex) Offset() uint32 {
	return stm32h7.DMAStreamOffset + stm32h7.DMAStreamStride*uint32(s)
}

func (s StreamIndex) String() string {
	return fmt.Sprintf("stream%d", uint8(s))
}

// Direction is the data transfer direction, DIR in CR
type Direction uint8

// transfer directions
const (
	PeripheralToMemory Direction = 0b00
	MemoryToPeripheral Direction = 0b01
	MemoryToMemory     Direction = 0b10
)

var directionNames = []string{"periph2mem", "mem2periph", "mem2mem"}

func (d Direction) String() string { return name(directionNames, uint32(d)) }

// DataSize is the width of one data item on a port, PSIZE/MSIZE in CR
type DataSize uint8

// data sizes
const (
	Byte     DataSize = 0b00
	HalfWord DataSize = 0b01
	Word     DataSize = 0b10
)

var dataSizeNames = []string{"byte", "halfword", "word"}

func (d DataSize) String() string { return name(dataSizeNames, uint32(d)) }

// Bytes is the number of bytes in one item
func (d DataSize) Bytes() uint32 {
	return 1 << d
}

// Priority is the software priority level, PL in CR
type Priority uint8

// priority levels
const (
	Low      Priority = 0b00
	Medium   Priority = 0b01
	High     Priority = 0b10
	VeryHigh Priority = 0b11
)

var priorityNames = []string{"low", "medium", "high", "veryhigh"}

func (p Priority) String() string { return name(priorityNames, uint32(p)) }

// BurstSize is the number of beats per burst, PBURST/MBURST in CR
type BurstSize uint8

// burst sizes
const (
	Single        BurstSize = 0b00
	Incremental4  BurstSize = 0b01
	Incremental8  BurstSize = 0b10
	Incremental16 BurstSize = 0b11
)

var burstNames = []string{"single", "incr4", "incr8", "incr16"}

func (b BurstSize) String() string { return name(burstNames, uint32(b)) }

// FlowController selects who decides the transfer length, PFCTRL in CR
type FlowController uint8

// flow controllers
const (
	FlowDMA        FlowController = 0
	FlowPeripheral FlowController = 1
)

var flowNames = []string{"dma", "peripheral"}

func (f FlowController) String() string { return name(flowNames, uint32(f)) }

// IncrementOffset is the peripheral increment offset size, PINCOS in CR
type IncrementOffset uint8

// increment offsets
const (
	// OffsetPSize increments the peripheral address by PSIZE
	OffsetPSize IncrementOffset = 0

	// OffsetWord increments the peripheral address by 4 regardless of PSIZE
	OffsetWord IncrementOffset = 1
)

var offsetNames = []string{"psize", "word"}

func (o IncrementOffset) String() string { return name(offsetNames, uint32(o)) }

// Target is the memory buffer used in double-buffer mode, CT in CR
type Target uint8

// memory targets
const (
	Memory0 Target = 0
	Memory1 Target = 1
)

var targetNames = []string{"mem0", "mem1"}

func (t Target) String() string { return name(targetNames, uint32(t)) }

func (t Target) mustValid() {
	if t > Memory1 {
		panic(fmt.Sprintf("dma: invalid memory target %d", uint8(t)))
	}
}

// Interrupt is an interrupt kind.  Its value is the kind's flag mask inside a
// stream's flag group in LISR/HISR.
type Interrupt uint8

// interrupt kinds
const (
	TransferComplete Interrupt = 0x20
	HalfTransfer     Interrupt = 0x10
	TransferError    Interrupt = 0x08
	DirectModeError  Interrupt = 0x04
	FIFOError        Interrupt = 0x01
)

// Interrupts lists every interrupt kind
var Interrupts = []Interrupt{TransferComplete, HalfTransfer, TransferError, DirectModeError, FIFOError}

func (i Interrupt) String() string {
	switch i {
	case TransferComplete:
		return "complete"
	case HalfTransfer:
		return "half"
	case TransferError:
		return "error"
	case DirectModeError:
		return "direct"
	case FIFOError:
		return "fifo"
	}
	return fmt.Sprintf("Interrupt(%#02x)", uint8(i))
}

// enableBit returns the kind's enable bit and whether it lives in FCR rather
// than CR.  Unknown kinds panic.
func (i Interrupt) enableBit() (bit uint32, inFCR bool) {
	switch i {
	case TransferComplete:
		return crTCIE, false
	case HalfTransfer:
		return crHTIE, false
	case TransferError:
		return crTEIE, false
	case DirectModeError:
		return crDMEIE, false
	case FIFOError:
		return fcrFEIE, true
	}
	panic(fmt.Sprintf("dma: invalid interrupt kind %#02x", uint8(i)))
}

// Threshold is the FIFO threshold, FTH in FCR
type Threshold uint8

// FIFO thresholds
const (
	QuarterFull      Threshold = 0b00
	HalfFull         Threshold = 0b01
	ThreeQuarterFull Threshold = 0b10
	Full             Threshold = 0b11
)

var thresholdNames = []string{"quarter", "half", "threequarter", "full"}

func (t Threshold) String() string { return name(thresholdNames, uint32(t)) }

func (t Threshold) mustValid() {
	if t > Full {
		panic(fmt.Sprintf("dma: invalid fifo threshold %d", uint8(t)))
	}
}

// FifoStatus is the FIFO fill level reported in FS of FCR.  The encoding is
// not ordered by fill level.
type FifoStatus uint8

// FIFO fill levels
const (
	FifoQuarter      FifoStatus = 0b000 // 0 < level < 1/4
	FifoHalf         FifoStatus = 0b001 // 1/4 <= level < 1/2
	FifoThreeQuarter FifoStatus = 0b010 // 1/2 <= level < 3/4
	FifoAlmostFull   FifoStatus = 0b011 // 3/4 <= level < full
	FifoEmpty        FifoStatus = 0b100
	FifoFull         FifoStatus = 0b101
)

// Valid returns false for the two reserved encodings
func (f FifoStatus) Valid() bool {
	return f <= FifoFull
}

func (f FifoStatus) String() string {
	switch f {
	case FifoEmpty:
		return "empty"
	case FifoQuarter:
		return "quarter"
	case FifoHalf:
		return "half"
	case FifoThreeQuarter:
		return "threequarter"
	case FifoAlmostFull:
		return "almostfull"
	case FifoFull:
		return "full"
	}
	return fmt.Sprintf("reserved(%03b)", uint8(f))
}

func name(names []string, v uint32) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("invalid(%d)", v)
}

// parse looks s up in names, case insensitive, ignoring '-' and '_'
func parse[T ~uint8](kind, s string, names []string) (T, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	for i, n := range names {
		if n == norm {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("dma: unknown %s %q, expected one of %s", kind, s, strings.Join(names, ", "))
}

// ParseController parses "DMA1" or "DMA2"
func ParseController(s string) (Controller, error) {
	switch strings.ToUpper(s) {
	case "DMA1", "1":
		return DMA1, nil
	case "DMA2", "2":
		return DMA2, nil
	}
	return 0, fmt.Errorf("dma: unknown controller %q, expected DMA1 or DMA2", s)
}

// ParseDirection parses "periph2mem", "mem2periph" or "mem2mem"
func ParseDirection(s string) (Direction, error) {
	return parse[Direction]("direction", s, directionNames)
}

// ParseDataSize parses "byte", "halfword" or "word"
func ParseDataSize(s string) (DataSize, error) {
	return parse[DataSize]("data size", s, dataSizeNames)
}

// ParsePriority parses "low", "medium", "high" or "veryhigh"
func ParsePriority(s string) (Priority, error) {
	return parse[Priority]("priority", s, priorityNames)
}

// ParseBurstSize parses "single", "incr4", "incr8" or "incr16"
func ParseBurstSize(s string) (BurstSize, error) {
	return parse[BurstSize]("burst size", s, burstNames)
}

// ParseFlowController parses "dma" or "peripheral"
func ParseFlowController(s string) (FlowController, error) {
	return parse[FlowController]("flow controller", s, flowNames)
}

// ParseIncrementOffset parses "psize" or "word"
func ParseIncrementOffset(s string) (IncrementOffset, error) {
	return parse[IncrementOffset]("increment offset", s, offsetNames)
}

// ParseTarget parses "mem0" or "mem1"
func ParseTarget(s string) (Target, error) {
	return parse[Target]("memory target", s, targetNames)
}

// ParseThreshold parses "quarter", "half", "threequarter" or "full"
func ParseThreshold(s string) (Threshold, error) {
	return parse[Threshold]("fifo threshold", s, thresholdNames)
}

// ParseInterrupt parses an interrupt kind by its String name or its
// reference-manual abbreviation (tc, ht, te, dme, fe)
func ParseInterrupt(s string) (Interrupt, error) {
	switch strings.ToLower(s) {
	case "complete", "tc", "transfercomplete":
		return TransferComplete, nil
	case "half", "ht", "halftransfer":
		return HalfTransfer, nil
	case "error", "te", "transfererror":
		return TransferError, nil
	case "direct", "dme", "directmodeerror":
		return DirectModeError, nil
	case "fifo", "fe", "fifoerror":
		return FIFOError, nil
	}
	return 0, fmt.Errorf("dma: unknown interrupt kind %q", s)
}
