package comm_test

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/h7dma/comm"
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/monitor"
	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/regsim"
	"github.com/nasa-jpl/h7dma/telegram"
)

const monAddr = 0x10

var (
	_ reg.Bus       = (*comm.Remote)(nil)
	_ reg.BitSetter = (*comm.Remote)(nil)
)

func remoteTo(m *monitor.Monitor) *comm.Remote {
	r := comm.NewRemote("pipe", "", monAddr)
	r.Timeout = time.Second
	r.Dial = comm.Pipe(func(c net.Conn) {
		defer c.Close()
		m.Serve(c)
	})
	return r
}

func TestStreamOverRemote(t *testing.T) {
	bus := regsim.New()
	dma.Attach(bus, dma.DMA1, dma.SimOptions{CompleteOnEnable: true})
	r := remoteTo(&monitor.Monitor{Addr: monAddr, Bus: bus})
	require.NoError(t, r.Open())
	defer r.Close()

	id := dma.Identity{Controller: dma.DMA1, Stream: dma.Stream5}
	s, err := dma.New(r, id, dma.Config{
		Direction:         dma.MemoryToPeripheral,
		PeripheralAddress: 0x4000_4428,
		MemoryIncrement:   true,
		Memory0Address:    0x2400_0000,
		Count:             16,
	})
	require.NoError(t, err)
	s.EnableInterrupt(dma.TransferComplete, dma.TransferError)
	s.Enable()

	assert.True(t, s.InterruptFlag(dma.TransferComplete))
	assert.Zero(t, s.Remaining())
	s.ClearInterruptFlag(dma.TransferComplete, dma.HalfTransfer)
	assert.Empty(t, s.PendingFlags())
	require.NoError(t, r.Err())

	assert.Equal(t, uint32(0x0000_0454), bus.Peek(id.Base()))
}

func TestBitSetterUsesOneTelegram(t *testing.T) {
	bus := regsim.New()
	r := remoteTo(&monitor.Monitor{Addr: monAddr, Bus: bus})
	bus.Poke(0x200, 0x0F)
	bus.ResetLog()

	reg.At(r, 0x200).Set(0x30)
	require.NoError(t, r.Err())
	assert.Equal(t, uint32(0x3F), bus.Peek(0x200))

	reg.At(r, 0x200).Clear(0x03)
	r.ToggleBits(0x200, 0x01)
	assert.Equal(t, uint32(0x3D), bus.Peek(0x200))
	assert.Len(t, bus.Stores(0x200), 3, "each a single monitor-side read-modify-write")
}

func TestBusyIsRetried(t *testing.T) {
	bus := regsim.New()
	var busy int32 = 3
	m := &monitor.Monitor{Addr: monAddr, Bus: bus, Busy: func() bool {
		return atomic.AddInt32(&busy, -1) >= 0
	}}
	r := remoteTo(m)

	_, err := r.Exchange(context.Background(), telegram.Write, 0x10, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), bus.Peek(0x10))
}

func TestNackIsSticky(t *testing.T) {
	bus := regsim.New()
	bus.Poke(0x20, 1)
	allow := int32(0)
	m := &monitor.Monitor{Addr: monAddr, Bus: bus, Allow: func(uint32) bool {
		return atomic.LoadInt32(&allow) != 0
	}}
	r := remoteTo(m)

	assert.Zero(t, r.Load(0x20))
	require.ErrorIs(t, r.Err(), telegram.ErrNack)

	atomic.StoreInt32(&allow, 1)
	assert.Zero(t, r.Load(0x20), "held error short-circuits")
	r.Store(0x20, 5)
	assert.Equal(t, uint32(1), bus.Peek(0x20))

	r.ClearErr()
	assert.Equal(t, uint32(1), r.Load(0x20))
	assert.NoError(t, r.Err())
}

func TestReconnectAfterLostLink(t *testing.T) {
	bus := regsim.New()
	bus.Poke(0x30, 42)
	m := &monitor.Monitor{Addr: monAddr, Bus: bus}
	var dials int32
	r := comm.NewRemote("pipe", "", monAddr)
	r.Timeout = time.Second
	r.Dial = comm.Pipe(func(c net.Conn) {
		atomic.AddInt32(&dials, 1)
		defer c.Close()
		// answer one telegram, then hang up
		raw, err := telegram.ReadFrame(bufio.NewReader(c))
		if err != nil {
			return
		}
		req, _ := telegram.Decode(raw)
		reply, _ := m.Handle(req)
		out, _ := telegram.Encode(reply)
		c.Write(out)
	})

	assert.Equal(t, uint32(42), r.Load(0x30))
	require.NoError(t, r.Err())
	r.Load(0x30)
	require.Error(t, r.Err())

	r.ClearErr()
	assert.Equal(t, uint32(42), r.Load(0x30))
	assert.NoError(t, r.Err())
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestRateLimitedExchangeHonorsContext(t *testing.T) {
	r := remoteTo(&monitor.Monitor{Addr: monAddr, Bus: regsim.New()})
	r.SetRate(0.001)
	_, err := r.Exchange(context.Background(), telegram.Read, 0, 0)
	require.NoError(t, err, "the first token is free")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Exchange(ctx, telegram.Read, 0, 0)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownTransport(t *testing.T) {
	r := comm.NewRemote("nowhere", "carrier-pigeon", monAddr)
	err := r.Open()
	assert.ErrorIs(t, err, comm.ErrUnknownTransport)

	_, err = r.Exchange(context.Background(), telegram.Ack, 0, 0)
	assert.Error(t, err)
}
