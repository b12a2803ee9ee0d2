package dma

import (
	"github.com/nasa-jpl/h7dma/regsim"
)

// SimOptions selects how much of the controller Attach models
type SimOptions struct {
	// CompleteOnEnable finishes a transfer the moment EN is set: NDTR runs
	// to zero, HT and TC are raised, and EN drops unless the stream is
	// circular.  In double-buffer mode CT flips instead of EN dropping.
	CompleteOnEnable bool
}

// Attach installs the register behavior of controller c on b: the status
// registers become read-only and cleared through their write-one-to-clear
// twins, FCR takes its reset value with FS read-only, and the reserved upper
// half of NDTR reads as zero.
func Attach(b *regsim.Bus, c Controller, opts SimOptions) {
	base := uint32(c)
	b.WriteOneToClear(base+regLIFCR, base+regLISR)
	b.WriteOneToClear(base+regHIFCR, base+regHISR)
	for s := Stream0; s <= Stream7; s++ {
		id := Identity{Controller: c, Stream: s}
		blk := id.Base()
		b.Poke(blk+regFCR, fcrReset)
		b.ReadOnly(blk+regFCR, 0b111<<fcrFSPos)
		b.ReadOnly(blk+regNDTR, 0xFFFF_0000)
		if opts.CompleteOnEnable {
			b.OnStore(blk+regCR, completeOnEnable(id))
		}
	}
}

func completeOnEnable(id Identity) regsim.Hook {
	blk := id.Base()
	status, _, _ := FlagAddresses(id)
	_, offset, _ := Locate(id.Stream)
	return func(b *regsim.Bus, addr, before, after uint32) {
		if before&crEN != 0 || after&crEN == 0 {
			return
		}
		if b.Peek(blk+regNDTR)&MaxCount == 0 {
			return
		}
		b.Assert(status, uint32(HalfTransfer|TransferComplete)<<offset)
		switch {
		case after&(1<<crDBMPos) != 0:
			b.Poke(addr, after^(1<<crCTPos))
		case after&(1<<crCIRCPos) != 0:
			// NDTR reloads and the stream keeps running
		default:
			b.Poke(blk+regNDTR, 0)
			b.Deassert(addr, crEN)
		}
	}
}

// Raise asserts flags for id as the hardware would
func Raise(b *regsim.Bus, id Identity, kinds ...Interrupt) {
	status, _, err := FlagAddresses(id)
	if err != nil {
		panic(err)
	}
	_, offset, _ := Locate(id.Stream)
	var mask uint32
	for _, k := range kinds {
		k.enableBit()
		mask |= uint32(k) << offset
	}
	b.Assert(status, mask)
}

// SetFifoLevel sets FS for id as the hardware would
func SetFifoLevel(b *regsim.Bus, id Identity, level FifoStatus) {
	fcr := id.Base() + regFCR
	v := b.Peek(fcr)
	b.Poke(fcr, v&^(0b111<<fcrFSPos)|uint32(level)&0b111<<fcrFSPos)
}
