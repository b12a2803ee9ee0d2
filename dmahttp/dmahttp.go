/*Package dmahttp exposes a DMA stream or a BDMA channel over HTTP.

Routes, relative to the stream's endpoint:

	GET|POST  /enabled               {"bool": v}
	GET|POST  /target                {"str": "mem0"|"mem1"}
	GET|POST  /memory/{target}       {"str": "0x24000000"}
	GET|POST  /interrupt/{kind}      {"bool": v}
	GET       /flags                 ["complete", ...]
	GET       /flag/{kind}           {"bool": v}
	POST      /flag/{kind}/clear
	GET|POST  /fifo/threshold        {"str": "quarter"|"half"|"threequarter"|"full"}
	GET       /fifo/status           {"str": v}
	GET|POST  /count                 {"int": v}, GET is the remaining count
	GET       /config

{kind} is an interrupt kind by name (complete, half, error, direct, fifo) or
abbreviation (tc, ht, te, dme, fe).  Every request holds the stream's mutex
for its whole register sequence.

BDMA channels have no FIFO: the /fifo routes are not bound and the direct
and fifo kinds are answered 400.  Writes the hardware would ignore because
the stream is enabled are answered 409.
*/
package dmahttp

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/h7dma/bdma"
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/generichttp"
	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/server"
	"github.com/nasa-jpl/h7dma/util"
)

// Errer is implemented by buses that hold transport errors, like comm.Remote
type Errer interface {
	Err() error
	ClearErr()
}

// badRequest marks errors caused by the request
type badRequest struct{ error }

func (e badRequest) HTTPStatus() int { return http.StatusBadRequest }
func (e badRequest) Unwrap() error   { return e.error }

// badGateway marks errors from the link to the target
type badGateway struct{ error }

func (e badGateway) HTTPStatus() int { return http.StatusBadGateway }
func (e badGateway) Unwrap() error   { return e.error }

// conflict marks writes refused because the stream is running
type conflict struct{ error }

func (e conflict) HTTPStatus() int { return http.StatusConflict }
func (e conflict) Unwrap() error   { return e.error }

// Controller is the part of a stream the routes share with a BDMA channel
type Controller interface {
	Enable()
	Disable()
	Enabled() bool
	SetTargetMemory(dma.Target)
	TargetMemory() dma.Target
	EnableInterrupt(...dma.Interrupt)
	DisableInterrupt(...dma.Interrupt)
	InterruptEnabled(dma.Interrupt) bool
	InterruptFlag(dma.Interrupt) bool
	PendingFlags() []dma.Interrupt
	ClearInterruptFlag(...dma.Interrupt)
	SetMemoryAddress(dma.Target, uint32) error
	SetCount(int) error
	Remaining() int
}

// HTTPWrapper binds a stream to a route table
type HTTPWrapper struct {
	mu  sync.Mutex
	c   Controller
	s   *dma.Stream // nil for a BDMA channel
	bus reg.Bus

	kinds []dma.Interrupt
	view  func() ConfigView

	// RouteTable maps routes to handlers
	RouteTable server.RouteTable
}

func route(method, path string) server.Route {
	return server.Route{Method: method, Path: path}
}

func newWrapper(c Controller, bus reg.Bus, kinds []dma.Interrupt, view func() ConfigView) *HTTPWrapper {
	h := &HTTPWrapper{c: c, bus: bus, kinds: kinds, view: view}
	get := func(p string) server.Route { return route(http.MethodGet, p) }
	post := func(p string) server.Route { return route(http.MethodPost, p) }
	h.RouteTable = server.RouteTable{
		get("/enabled"):            generichttp.GetBool(h.getEnabled),
		post("/enabled"):           generichttp.SetBool(h.setEnabled),
		get("/target"):             generichttp.GetString(h.getTarget),
		post("/target"):            generichttp.SetString(h.setTarget),
		get("/memory/{target}"):    h.getMemory,
		post("/memory/{target}"):   h.setMemory,
		get("/interrupt/{kind}"):   h.getInterrupt,
		post("/interrupt/{kind}"):  h.setInterrupt,
		get("/flags"):              h.getFlags,
		get("/flag/{kind}"):        h.getFlag,
		post("/flag/{kind}/clear"): h.clearFlag,
		get("/count"):              generichttp.GetInt(h.getCount),
		post("/count"):             generichttp.SetInt(h.setCount),
		get("/config"):             h.getConfig,
	}
	return h
}

// NewHTTPWrapper returns an HTTPWrapper for s, which was built on bus
func NewHTTPWrapper(s *dma.Stream, bus reg.Bus) *HTTPWrapper {
	h := newWrapper(s, bus, dma.Interrupts, func() ConfigView { return View(s.Identity(), s.Config()) })
	h.s = s
	h.RouteTable[route(http.MethodGet, "/fifo/threshold")] = generichttp.GetString(h.getThreshold)
	h.RouteTable[route(http.MethodPost, "/fifo/threshold")] = generichttp.SetString(h.setThreshold)
	h.RouteTable[route(http.MethodGet, "/fifo/status")] = generichttp.GetString(h.getFifoStatus)
	return h
}

// NewChannelWrapper returns an HTTPWrapper for a BDMA channel built on bus
func NewChannelWrapper(c *bdma.Channel, bus reg.Bus) *HTTPWrapper {
	return newWrapper(c, bus, bdma.Interrupts, func() ConfigView { return ChannelView(c.Index(), c.Config()) })
}

// RT satisfies server.HTTPer
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// do runs fn under the stream mutex and turns a transport error held by
// the bus into a 502
func (h *HTTPWrapper) do(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(); err != nil {
		switch {
		case errors.Is(err, dma.ErrInvalidConfiguration):
			return badRequest{err}
		case errors.Is(err, dma.ErrStreamEnabled):
			return conflict{err}
		}
		return err
	}
	if e, ok := h.bus.(Errer); ok {
		if err := e.Err(); err != nil {
			e.ClearErr()
			return badGateway{err}
		}
	}
	return nil
}

func (h *HTTPWrapper) getEnabled() (on bool, err error) {
	err = h.do(func() error { on = h.c.Enabled(); return nil })
	return
}

func (h *HTTPWrapper) setEnabled(on bool) error {
	return h.do(func() error {
		if on {
			h.c.Enable()
		} else {
			h.c.Disable()
		}
		return nil
	})
}

func (h *HTTPWrapper) getTarget() (t string, err error) {
	err = h.do(func() error { t = h.c.TargetMemory().String(); return nil })
	return
}

func (h *HTTPWrapper) setTarget(s string) error {
	t, err := dma.ParseTarget(s)
	if err != nil {
		return badRequest{err}
	}
	return h.do(func() error { h.c.SetTargetMemory(t); return nil })
}

func (h *HTTPWrapper) getThreshold() (t string, err error) {
	err = h.do(func() error { t = h.s.FifoThreshold().String(); return nil })
	return
}

func (h *HTTPWrapper) setThreshold(s string) error {
	t, err := dma.ParseThreshold(s)
	if err != nil {
		return badRequest{err}
	}
	return h.do(func() error { h.s.SetFifoThreshold(t); return nil })
}

func (h *HTTPWrapper) getFifoStatus() (st string, err error) {
	err = h.do(func() error { st = h.s.FifoStatus().String(); return nil })
	return
}

func (h *HTTPWrapper) getCount() (n int, err error) {
	err = h.do(func() error { n = h.c.Remaining(); return nil })
	return
}

func (h *HTTPWrapper) setCount(n int) error {
	return h.do(func() error { return h.c.SetCount(n) })
}

// kindParam parses {kind}, replying 400 itself on failure or for a kind
// the controller does not have
func (h *HTTPWrapper) kindParam(w http.ResponseWriter, r *http.Request) (dma.Interrupt, bool) {
	k, err := dma.ParseInterrupt(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	for _, have := range h.kinds {
		if k == have {
			return k, true
		}
	}
	http.Error(w, fmt.Sprintf("interrupt %s not available", k), http.StatusBadRequest)
	return 0, false
}

func (h *HTTPWrapper) getInterrupt(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	generichttp.GetBool(func() (on bool, err error) {
		err = h.do(func() error { on = h.c.InterruptEnabled(k); return nil })
		return
	})(w, r)
}

func (h *HTTPWrapper) setInterrupt(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	generichttp.SetBool(func(on bool) error {
		return h.do(func() error {
			if on {
				h.c.EnableInterrupt(k)
			} else {
				h.c.DisableInterrupt(k)
			}
			return nil
		})
	})(w, r)
}

func (h *HTTPWrapper) getFlag(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	generichttp.GetBool(func() (on bool, err error) {
		err = h.do(func() error { on = h.c.InterruptFlag(k); return nil })
		return
	})(w, r)
}

func (h *HTTPWrapper) clearFlag(w http.ResponseWriter, r *http.Request) {
	k, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	if err := h.do(func() error { h.c.ClearInterruptFlag(k); return nil }); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPWrapper) getFlags(w http.ResponseWriter, r *http.Request) {
	var names []string
	err := h.do(func() error {
		for _, k := range h.c.PendingFlags() {
			names = append(names, k.String())
		}
		return nil
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	server.RespondJSON(w, names)
}

func targetParam(w http.ResponseWriter, r *http.Request) (dma.Target, bool) {
	t, err := dma.ParseTarget(chi.URLParam(r, "target"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return t, true
}

func (h *HTTPWrapper) getMemory(w http.ResponseWriter, r *http.Request) {
	t, ok := targetParam(w, r)
	if !ok {
		return
	}
	generichttp.GetString(func() (string, error) {
		var addr string
		err := h.do(func() error {
			v := h.view()
			addr = v.Memory0Address
			if t == dma.Memory1 {
				addr = v.Memory1Address
			}
			return nil
		})
		return addr, err
	})(w, r)
}

func (h *HTTPWrapper) setMemory(w http.ResponseWriter, r *http.Request) {
	t, ok := targetParam(w, r)
	if !ok {
		return
	}
	generichttp.SetString(func(s string) error {
		addr, err := util.ParseUint32(s)
		if err != nil {
			return badRequest{err}
		}
		return h.do(func() error { return h.c.SetMemoryAddress(t, addr) })
	})(w, r)
}

// ConfigView is the JSON form of a stream's identity and configuration.  The
// fields BDMA lacks are left empty for a channel.
type ConfigView struct {
	Controller          string `json:"controller"`
	Stream              int    `json:"stream"`
	Direction           string `json:"direction"`
	PeripheralSize      string `json:"peripheralSize"`
	PeripheralIncrement bool   `json:"peripheralIncrement"`
	PeripheralAddress   string `json:"peripheralAddress"`
	MemorySize          string `json:"memorySize"`
	MemoryIncrement     bool   `json:"memoryIncrement"`
	Memory0Address      string `json:"memory0Address"`
	Memory1Address      string `json:"memory1Address"`
	Count               int    `json:"count"`
	Priority            string `json:"priority"`
	Circular            bool   `json:"circular"`
	IncrementOffset     string `json:"incrementOffset,omitempty"`
	DoubleBuffer        bool   `json:"doubleBuffer"`
	BufferedTransfers   bool   `json:"bufferedTransfers"`
	FlowController      string `json:"flowController,omitempty"`
	PeripheralBurst     string `json:"peripheralBurst,omitempty"`
	MemoryBurst         string `json:"memoryBurst,omitempty"`
}

func hex(v uint32) string { return fmt.Sprintf("0x%08x", v) }

// View builds the ConfigView of a stream
func View(id dma.Identity, c dma.Config) ConfigView {
	return ConfigView{
		Controller:          id.Controller.String(),
		Stream:              int(id.Stream),
		Direction:           c.Direction.String(),
		PeripheralSize:      c.PeripheralSize.String(),
		PeripheralIncrement: c.PeripheralIncrement,
		PeripheralAddress:   hex(c.PeripheralAddress),
		MemorySize:          c.MemorySize.String(),
		MemoryIncrement:     c.MemoryIncrement,
		Memory0Address:      hex(c.Memory0Address),
		Memory1Address:      hex(c.Memory1Address),
		Count:               c.Count,
		Priority:            c.Priority.String(),
		Circular:            c.Circular,
		IncrementOffset:     c.IncrementOffset.String(),
		DoubleBuffer:        c.DoubleBuffer,
		BufferedTransfers:   c.BufferedTransfers,
		FlowController:      c.FlowController.String(),
		PeripheralBurst:     c.PeripheralBurst.String(),
		MemoryBurst:         c.MemoryBurst.String(),
	}
}

// ChannelView builds the ConfigView of a BDMA channel
func ChannelView(i bdma.Index, c bdma.Config) ConfigView {
	return ConfigView{
		Controller:          "BDMA",
		Stream:              int(i),
		Direction:           c.Direction.String(),
		PeripheralSize:      c.PeripheralSize.String(),
		PeripheralIncrement: c.PeripheralIncrement,
		PeripheralAddress:   hex(c.PeripheralAddress),
		MemorySize:          c.MemorySize.String(),
		MemoryIncrement:     c.MemoryIncrement,
		Memory0Address:      hex(c.Memory0Address),
		Memory1Address:      hex(c.Memory1Address),
		Count:               c.Count,
		Priority:            c.Priority.String(),
		Circular:            c.Circular,
		DoubleBuffer:        c.DoubleBuffer,
	}
}

func (h *HTTPWrapper) getConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	v := h.view()
	h.mu.Unlock()
	server.RespondJSON(w, v)
}
