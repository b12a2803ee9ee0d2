package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/dmacfg"
	"github.com/nasa-jpl/h7dma/regsim"
)

// bench serves a simulated target and writes a config pointing at it
func bench(t *testing.T) (cfgPath string, sim *regsim.Bus) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfgPath = filepath.Join(t.TempDir(), "dmasrv.yml")
	body := fmt.Sprintf(`
Targets:
  - Name: sim
    Transport: sim
    Monitor: 0x10
    Listen: %q
Streams:
  - Endpoint: /uart2/tx
    Target: sim
    Controller: DMA1
    Stream: 5
    Direction: mem2periph
    MemoryIncrement: true
    PeripheralAddress: 0x40004428
    Memory0Address: 0x24000000
    Count: 128
    Interrupts: [complete, error]
  - Endpoint: /lpuart1/rx
    Target: sim
    Controller: BDMA
    Stream: 0
    Direction: periph2mem
    PeripheralAddress: 0x58000c24
    Memory0Address: 0x38000000
    Count: 16
`, addr)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	c, err := dmacfg.Load(cfgPath)
	require.NoError(t, err)
	bus, closer, err := dmacfg.OpenTarget(c.Targets[0])
	require.NoError(t, err)
	t.Cleanup(func() { closer() })
	return cfgPath, bus.(*regsim.Bus)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	out = &buf
	endpoint = ""
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestApplyEnableWait(t *testing.T) {
	cfg, sim := bench(t)
	id := dma.Identity{Controller: dma.DMA1, Stream: dma.Stream5}

	txt, err := run(t, "apply", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	assert.Equal(t, "/uart2/tx: DMA1 stream5 mem2periph, 128 items\n", txt)
	assert.Equal(t, uint32(128), sim.Peek(id.Base()+0x04))

	_, err = run(t, "enable", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)

	txt, err = run(t, "wait", "-c", cfg, "-s", "/uart2/tx", "-q", "-i", "1ms")
	require.NoError(t, err)
	assert.Equal(t, "complete\n", txt)

	txt, err = run(t, "status", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	assert.Contains(t, txt, "remaining  0\n")
	assert.Contains(t, txt, "flags      complete,half\n")
	assert.Contains(t, txt, "interrupts complete,error\n")

	_, err = run(t, "clear", "-c", cfg, "-s", "/uart2/tx", "tc")
	require.NoError(t, err)
	txt, err = run(t, "status", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	assert.Contains(t, txt, "flags      half\n")

	_, err = run(t, "clear", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	txt, err = run(t, "status", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	assert.Contains(t, txt, "flags      \n")
}

func TestWaitReportsTransferError(t *testing.T) {
	cfg, sim := bench(t)
	_, err := run(t, "apply", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	dma.Raise(sim, dma.Identity{Controller: dma.DMA1, Stream: dma.Stream5}, dma.TransferError)

	_, err = run(t, "wait", "-c", cfg, "-s", "/uart2/tx", "-q", "-i", "1ms")
	assert.ErrorContains(t, err, "raised error")
}

func TestWaitTimesOut(t *testing.T) {
	cfg, _ := bench(t)
	_, err := run(t, "apply", "-c", cfg, "-s", "/uart2/tx")
	require.NoError(t, err)
	_, err = run(t, "wait", "-c", cfg, "-s", "/uart2/tx", "-q", "-i", "1ms", "-t", "20ms", "half")
	assert.Error(t, err)
}

func TestBadInput(t *testing.T) {
	cfg, _ := bench(t)
	_, err := run(t, "status", "-c", cfg, "-s", "/nowhere")
	assert.ErrorContains(t, err, "no stream at /nowhere")
	_, err = run(t, "status", "-c", cfg)
	assert.ErrorContains(t, err, "--stream is required")
	_, err = run(t, "status", "-c", cfg, "-s", "/lpuart1/rx")
	assert.ErrorContains(t, err, "BDMA channel")
	_, err = run(t, "clear", "-c", cfg, "-s", "/uart2/tx", "overflow")
	assert.Error(t, err)
}
