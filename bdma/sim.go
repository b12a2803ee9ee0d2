package bdma

import (
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/regsim"
	"github.com/nasa-jpl/h7dma/stm32h7"
)

// Attach installs the controller's register behavior on b.  With
// opts.CompleteOnEnable a channel finishes its transfer when EN is set, as
// dma.Attach models it for streams.
func Attach(b *regsim.Bus, opts dma.SimOptions) {
	b.WriteOneToClear(stm32h7.BDMABase+regIFCR, stm32h7.BDMABase+regISR)
	for i := Index(0); i <= 7; i++ {
		b.ReadOnly(i.Base()+regCNDTR, 0xFFFF_0000)
		if opts.CompleteOnEnable {
			b.OnStore(i.Base()+regCCR, completeOnEnable(i))
		}
	}
}

func completeOnEnable(i Index) regsim.Hook {
	offset, _ := Locate(i)
	return func(b *regsim.Bus, addr, before, after uint32) {
		if before&ccrEN != 0 || after&ccrEN == 0 {
			return
		}
		if b.Peek(i.Base()+regCNDTR)&dma.MaxCount == 0 {
			return
		}
		b.Assert(stm32h7.BDMABase+regISR, (flagGIF|flagHTIF|flagTCIF)<<offset)
		switch {
		case after&(1<<ccrDBMPos) != 0:
			b.Poke(addr, after^(1<<ccrCTPos))
		case after&(1<<ccrCIRCPos) != 0:
			// CNDTR reloads
		default:
			b.Poke(i.Base()+regCNDTR, 0)
			b.Deassert(addr, ccrEN)
		}
	}
}

// Raise asserts kinds and GIF for channel i
func Raise(b *regsim.Bus, i Index, kinds ...dma.Interrupt) {
	offset, err := Locate(i)
	if err != nil {
		panic(err)
	}
	mask := uint32(flagGIF)
	for _, k := range kinds {
		_, f := enableBit(k)
		mask |= f
	}
	b.Assert(stm32h7.BDMABase+regISR, mask<<offset)
}
