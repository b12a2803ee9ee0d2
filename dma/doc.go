/*Package dma drives one stream of an STM32H7 DMA1/DMA2 controller.

A Stream is bound to a controller and a stream index when it is created, and
never re-bound.  New validates the transfer configuration and commits it to
the stream's registers with the stream left disabled:

	s, err := dma.New(reg.MMIO{}, dma.Identity{Controller: dma.DMA1, Stream: dma.Stream5}, dma.Config{
		Direction:         dma.MemoryToPeripheral,
		PeripheralSize:    dma.Byte,
		PeripheralAddress: stm32h7.USART2TDR,
		MemorySize:        dma.Byte,
		MemoryIncrement:   true,
		Memory0Address:    0x24000000,
		Count:             128,
	})
	if err != nil {
		log.Fatal(err)
	}
	s.ClearInterruptFlag(dma.TransferComplete, dma.HalfTransfer)
	s.EnableInterrupt(dma.TransferComplete, dma.TransferError)
	s.Enable()

Zero values in Config are the hardware defaults: low priority, normal (not
circular) mode, single buffer, DMA flow control, single-beat bursts.

Register layout

Each stream owns a six-register block (CR, NDTR, PAR, M0AR, M1AR, FCR) at
base + 0x10 + 0x18*index.  Its interrupt flags do not live there: the
controller packs the flags of streams 0-3 into LISR and of streams 4-7 into
HISR, one five-bit-aligned group per stream, with write-one-to-clear twins
LIFCR and HIFCR.  Locate maps a stream to its register and group offset.

Concurrency

Every method is a short, unlocked sequence of register accesses.  Setters
that read-modify-write a register race with any other context (an interrupt
handler, another goroutine) touching the same register; establishing
exclusion is the caller's job.  Flag clears are single writes and are safe
against concurrent clears of other streams' flags.
*/
package dma
