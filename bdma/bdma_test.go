package bdma_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/h7dma/bdma"
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/regsim"
	"github.com/nasa-jpl/h7dma/stm32h7"
)

const (
	isr  = stm32h7.BDMABase + 0x00
	ifcr = stm32h7.BDMABase + 0x04
)

func lpuartRx() bdma.Config {
	return bdma.Config{
		Direction:         dma.PeripheralToMemory,
		PeripheralAddress: 0x5800_0c24,
		MemoryIncrement:   true,
		Memory0Address:    0x3800_0000,
		Count:             64,
		Priority:          dma.High,
	}
}

func setup(t *testing.T, i bdma.Index, cfg bdma.Config, opts dma.SimOptions) (*regsim.Bus, *bdma.Channel) {
	t.Helper()
	bus := regsim.New()
	bdma.Attach(bus, opts)
	c, err := bdma.New(bus, i, cfg)
	require.NoError(t, err)
	bus.ResetLog()
	return bus, c
}

func TestChannelAddresses(t *testing.T) {
	assert.Equal(t, uint32(0x5802_5408), bdma.Index(0).Base())
	assert.Equal(t, uint32(0x5802_5408+7*0x14), bdma.Index(7).Base())

	off, err := bdma.Locate(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), off)

	_, err = bdma.Locate(8)
	assert.ErrorIs(t, err, bdma.ErrUnmappedChannel)
}

func TestNewPacksCCR(t *testing.T) {
	bus, c := setup(t, 2, lpuartRx(), dma.SimOptions{})
	assert.Equal(t, uint32(1<<7|0b10<<12), bus.Peek(c.Index().Base()))
	assert.Equal(t, 64, c.Remaining())
	assert.False(t, c.Enabled())

	m2m := lpuartRx()
	m2m.Direction = dma.MemoryToMemory
	assert.Equal(t, uint32(1<<14|1<<7|0b10<<12), m2m.Control())

	tx := lpuartRx()
	tx.Direction = dma.MemoryToPeripheral
	tx.DoubleBuffer = true
	tx.Memory1Address = 0x3800_0400
	assert.Equal(t, uint32(1<<4|1<<15|1<<7|0b10<<12), tx.Control())
}

func TestNewRejectsBeforeWriting(t *testing.T) {
	bus := regsim.New()
	bdma.Attach(bus, dma.SimOptions{})
	bus.ResetLog()

	cfg := lpuartRx()
	cfg.Count = dma.MaxCount + 1
	_, err := bdma.New(bus, 0, cfg)
	assert.ErrorIs(t, err, dma.ErrInvalidConfiguration)

	_, err = bdma.New(bus, 9, lpuartRx())
	assert.ErrorIs(t, err, bdma.ErrUnmappedChannel)
	assert.Empty(t, bus.Accesses())
}

func TestInterruptMask(t *testing.T) {
	bus, c := setup(t, 5, lpuartRx(), dma.SimOptions{})
	ccr := c.Index().Base()
	before := bus.Peek(ccr)

	c.EnableInterrupt(bdma.Interrupts...)
	assert.Len(t, bus.Stores(ccr), 1)
	assert.Equal(t, before|0b1110, bus.Peek(ccr))
	for _, k := range bdma.Interrupts {
		assert.True(t, c.InterruptEnabled(k), k.String())
	}

	c.DisableInterrupt(dma.HalfTransfer)
	assert.False(t, c.InterruptEnabled(dma.HalfTransfer))
	c.DisableInterrupt(bdma.Interrupts...)
	assert.Equal(t, before, bus.Peek(ccr))

	bus.ResetLog()
	assert.Panics(t, func() { c.EnableInterrupt(dma.TransferComplete, dma.FIFOError) })
	assert.Empty(t, bus.Stores(ccr))
}

func TestFlags(t *testing.T) {
	for i := bdma.Index(0); i <= 7; i++ {
		for _, k := range bdma.Interrupts {
			bus, c := setup(t, i, lpuartRx(), dma.SimOptions{})
			bdma.Raise(bus, i, k)
			require.True(t, c.InterruptFlag(k))
			require.True(t, c.GlobalFlag())
			assert.Equal(t, []dma.Interrupt{k}, c.PendingFlags())

			c.ClearInterruptFlag(k)
			assert.False(t, c.InterruptFlag(k), "%s %s", i, k)
			assert.True(t, c.GlobalFlag(), "GIF needs its own clear")

			c.ClearAll()
			assert.False(t, c.GlobalFlag())
			assert.Zero(t, bus.Peek(isr))
		}
	}
}

func TestClearWritesOnlyOwnGroup(t *testing.T) {
	bus, c := setup(t, 6, lpuartRx(), dma.SimOptions{})
	bdma.Raise(bus, 5, dma.TransferComplete)
	bdma.Raise(bus, 6, dma.TransferComplete)
	c.ClearAll()
	assert.Equal(t, []uint32{0xF << 24}, bus.Stores(ifcr))
	assert.Equal(t, uint32((0x1|0x2)<<20), bus.Peek(isr))
}

func TestSimCompletes(t *testing.T) {
	bus, c := setup(t, 1, lpuartRx(), dma.SimOptions{CompleteOnEnable: true})
	c.Enable()
	assert.False(t, c.Enabled())
	assert.Zero(t, c.Remaining())
	assert.True(t, c.InterruptFlag(dma.TransferComplete))
	assert.ElementsMatch(t, []dma.Interrupt{dma.TransferComplete, dma.HalfTransfer}, c.PendingFlags())
	assert.NotZero(t, bus.Peek(isr))

	cfg := lpuartRx()
	cfg.DoubleBuffer = true
	cfg.Memory1Address = 0x3800_0800
	_, c = setup(t, 1, cfg, dma.SimOptions{CompleteOnEnable: true})
	c.Enable()
	assert.True(t, c.Enabled())
	assert.Equal(t, dma.Memory1, c.TargetMemory())
}

func TestAddressAndCount(t *testing.T) {
	bus, c := setup(t, 0, lpuartRx(), dma.SimOptions{})
	require.NoError(t, c.SetMemoryAddress(dma.Memory1, 0x3800_1000))
	assert.Equal(t, uint32(0x3800_1000), bus.Peek(c.Index().Base()+0x10))
	assert.ErrorIs(t, c.SetMemoryAddress(dma.Memory0, 0), dma.ErrInvalidConfiguration)

	require.NoError(t, c.SetCount(10))
	assert.Equal(t, 10, c.Remaining())
	assert.ErrorIs(t, c.SetCount(-1), dma.ErrInvalidConfiguration)

	c.SetTargetMemory(dma.Memory1)
	assert.Equal(t, dma.Memory1, c.TargetMemory())
}

func TestChannelWritesRefusedWhileEnabled(t *testing.T) {
	bus, c := setup(t, 4, lpuartRx(), dma.SimOptions{})
	c.Enable()
	assert.ErrorIs(t, c.SetCount(8), dma.ErrStreamEnabled)
	assert.ErrorIs(t, c.SetMemoryAddress(dma.Memory0, 0x3800_0100), dma.ErrStreamEnabled)
	assert.Equal(t, lpuartRx(), c.Config())
	assert.Equal(t, uint32(0x3800_0000), bus.Peek(c.Index().Base()+0x0C))
}
