package dmahttp_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/h7dma/bdma"
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/dmahttp"
	"github.com/nasa-jpl/h7dma/regsim"
	"github.com/nasa-jpl/h7dma/server/middleware/locker"
)

var id = dma.Identity{Controller: dma.DMA1, Stream: dma.Stream5}

// failingBus is a regsim.Bus that holds an error after every access while
// armed, like comm.Remote with a dead link
type failingBus struct {
	*regsim.Bus
	armed bool
	err   error
}

func (f *failingBus) Load(addr uint32) uint32 {
	if f.armed {
		f.err = assert.AnError
	}
	return f.Bus.Load(addr)
}

func (f *failingBus) Err() error { return f.err }
func (f *failingBus) ClearErr()  { f.err = nil }

func setup(t *testing.T) (http.Handler, *regsim.Bus, *failingBus) {
	t.Helper()
	sim := regsim.New()
	dma.Attach(sim, dma.DMA1, dma.SimOptions{CompleteOnEnable: true})
	bus := &failingBus{Bus: sim}
	s, err := dma.New(bus, id, dma.Config{
		Direction:         dma.MemoryToPeripheral,
		PeripheralAddress: 0x4000_4428,
		MemoryIncrement:   true,
		Memory0Address:    0x2400_0000,
		Count:             32,
	})
	require.NoError(t, err)

	w := dmahttp.NewHTTPWrapper(s, bus)
	lock := locker.New()
	locker.Inject(w, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	w.RT().Bind(r)
	return r, sim, bus
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnableRunsTransfer(t *testing.T) {
	h, _, _ := setup(t)

	rec := do(t, h, http.MethodGet, "/enabled", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bool": false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/interrupt/tc", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/interrupt/complete", "")
	assert.JSONEq(t, `{"bool": true}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/enabled", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/flags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flags []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	assert.ElementsMatch(t, []string{"complete", "half"}, flags)

	rec = do(t, h, http.MethodGet, "/count", "")
	assert.JSONEq(t, `{"int": 0}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/flag/tc/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/flag/tc", "")
	assert.JSONEq(t, `{"bool": false}`, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/flag/half", "")
	assert.JSONEq(t, `{"bool": true}`, rec.Body.String())
}

func TestFifoAndTarget(t *testing.T) {
	h, sim, _ := setup(t)

	rec := do(t, h, http.MethodPost, "/fifo/threshold", `{"str": "full"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/fifo/threshold", "")
	assert.JSONEq(t, `{"str": "full"}`, rec.Body.String())

	dma.SetFifoLevel(sim, id, dma.FifoAlmostFull)
	rec = do(t, h, http.MethodGet, "/fifo/status", "")
	assert.JSONEq(t, `{"str": "almostfull"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/target", `{"str": "mem1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/target", "")
	assert.JSONEq(t, `{"str": "mem1"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/memory/mem1", `{"str": "0x2400_1000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/memory/mem1", "")
	assert.JSONEq(t, `{"str": "0x24001000"}`, rec.Body.String())
}

func TestBadInput(t *testing.T) {
	h, _, _ := setup(t)
	cases := []struct{ method, path, body string }{
		{http.MethodGet, "/interrupt/overflow", ""},
		{http.MethodPost, "/fifo/threshold", `{"str": "most"}`},
		{http.MethodPost, "/count", `{"int": 70000}`},
		{http.MethodPost, "/count", `not json`},
		{http.MethodPost, "/memory/mem0", `{"str": "0"}`},
		{http.MethodPost, "/memory/mem0", `{"str": "bogus"}`},
		{http.MethodPost, "/memory/mem2", `{"str": "0x2400_0000"}`},
	}
	for _, c := range cases {
		rec := do(t, h, c.method, c.path, c.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s %s", c.method, c.path, c.body)
	}
}

func TestBusErrorIsBadGateway(t *testing.T) {
	h, _, bus := setup(t)
	bus.armed = true
	rec := do(t, h, http.MethodGet, "/enabled", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NoError(t, bus.Err(), "cleared for the next request")

	bus.armed = false
	rec = do(t, h, http.MethodGet, "/enabled", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLockBlocksWrites(t *testing.T) {
	h, _, _ := setup(t)
	rec := do(t, h, http.MethodPost, "/lock", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/enabled", `{"bool": true}`)
	assert.Equal(t, http.StatusLocked, rec.Code)
	rec = do(t, h, http.MethodGet, "/enabled", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/lock", "")
	assert.JSONEq(t, `{"bool": true}`, rec.Body.String())

	do(t, h, http.MethodPost, "/lock", `{"bool": false}`)
	rec = do(t, h, http.MethodPost, "/enabled", `{"bool": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigView(t *testing.T) {
	h, _, _ := setup(t)
	rec := do(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v dmahttp.ConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "DMA1", v.Controller)
	assert.Equal(t, 5, v.Stream)
	assert.Equal(t, "mem2periph", v.Direction)
	assert.Equal(t, "0x40004428", v.PeripheralAddress)
	assert.Equal(t, 32, v.Count)
	assert.Equal(t, "single", v.MemoryBurst)
}

func TestPlainText(t *testing.T) {
	h, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/count", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "32\n", rec.Body.String())
}

func TestWritesWhileEnabledAreConflicts(t *testing.T) {
	sim := regsim.New()
	dma.Attach(sim, dma.DMA1, dma.SimOptions{})
	s, err := dma.New(sim, id, dma.Config{
		Direction:         dma.MemoryToPeripheral,
		PeripheralAddress: 0x4000_4428,
		MemoryIncrement:   true,
		Memory0Address:    0x2400_0000,
		Count:             32,
	})
	require.NoError(t, err)
	r := chi.NewRouter()
	dmahttp.NewHTTPWrapper(s, sim).RT().Bind(r)

	rec := do(t, r, http.MethodPost, "/enabled", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, http.MethodPost, "/count", `{"int": 5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, r, http.MethodPost, "/memory/mem0", `{"str": "0x2400_0100"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, "/config", "")
	var v dmahttp.ConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 32, v.Count)
	assert.Equal(t, "0x24000000", v.Memory0Address)
}

func TestChannelRoutes(t *testing.T) {
	sim := regsim.New()
	bdma.Attach(sim, dma.SimOptions{CompleteOnEnable: true})
	c, err := bdma.New(sim, 2, bdma.Config{
		Direction:         dma.PeripheralToMemory,
		PeripheralAddress: 0x5800_0c24,
		MemoryIncrement:   true,
		Memory0Address:    0x3800_0000,
		Count:             64,
	})
	require.NoError(t, err)
	r := chi.NewRouter()
	dmahttp.NewChannelWrapper(c, sim).RT().Bind(r)

	rec := do(t, r, http.MethodGet, "/fifo/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, http.MethodGet, "/interrupt/fe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/interrupt/tc", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, http.MethodPost, "/enabled", `{"bool": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, http.MethodGet, "/flags", "")
	assert.JSONEq(t, `["complete", "half"]`, rec.Body.String())
	rec = do(t, r, http.MethodGet, "/count", "")
	assert.JSONEq(t, `{"int": 0}`, rec.Body.String())
	rec = do(t, r, http.MethodGet, "/memory/mem0", "")
	assert.JSONEq(t, `{"str": "0x38000000"}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/config", "")
	var v dmahttp.ConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "BDMA", v.Controller)
	assert.Equal(t, 2, v.Stream)
	assert.Equal(t, "periph2mem", v.Direction)
	assert.Empty(t, v.MemoryBurst)
}
