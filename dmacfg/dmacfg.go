/*Package dmacfg loads the description of a bench: the targets whose
registers are reached through a bus, and the DMA streams configured on them.

Configuration is YAML, loaded over built-in defaults:

	Addr: ":8000"
	Targets:
	  - Name: bench
	    Transport: serial        # serial | tcp | usb | sim | devmem
	    Addr: /dev/ttyACM0       # tcp host:port, usb VID:PID
	    Baud: 115200
	    Rate: 500                # telegrams per second, 0 = unlimited
	    Monitor: 0x10
	Streams:
	  - Endpoint: /uart2/tx
	    Target: bench
	    Controller: DMA1
	    Stream: 5
	    Direction: mem2periph
	    MemoryIncrement: true
	    PeripheralAddress: 0x40004428
	    Memory0Address: 0x24000000
	    Count: 128
	    Interrupts: [complete, error]

Enumerated fields take the names printed by the dma package's String
methods; an empty value is the hardware default.  Addresses may be written
as YAML numbers or as strings with a 0x prefix.

Controller: BDMA selects a channel of the basic DMA controller, numbered by
Stream.  The FIFO, burst, flow-control, increment-offset and buffered
transfer fields must then be left empty.

A file that sets Targets but no Streams configures no streams; the default
stream only applies when Targets are not overridden.
*/
package dmacfg

import (
	"errors"
	"fmt"
	"log"
	"net"
	"slices"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/nasa-jpl/h7dma/bdma"
	"github.com/nasa-jpl/h7dma/comm"
	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/monitor"
	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/regsim"
	"github.com/nasa-jpl/h7dma/util"
)

// transports handled here rather than by comm
const (
	// Sim is the transport of a simulated target
	Sim = "sim"

	// Devmem maps the registers through /dev/mem on a Linux host
	Devmem = "devmem"
)

// BDMA in Stream.Controller makes the stream a BDMA channel
const BDMA = "BDMA"

var (
	// ErrUnknownTarget is generated when a stream names a target that is not configured
	ErrUnknownTarget = errors.New("dmacfg: unknown target")

	// ErrDuplicate is generated when two targets share a name or two streams an endpoint
	ErrDuplicate = errors.New("dmacfg: duplicate")

	// ErrNotServed is generated by Connect for a sim target with no Listen address
	ErrNotServed = errors.New("dmacfg: simulated target is not served")
)

// Target is a board reached through a bus
type Target struct {
	// Name is referenced by streams
	Name string `koanf:"Name" yaml:"Name"`

	// Transport is serial, tcp, usb, sim, or devmem
	Transport string `koanf:"Transport" yaml:"Transport"`

	// Addr is a serial device, a host:port, or a USB VID:PID.  Unused for sim.
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Baud is the serial line rate
	Baud int `koanf:"Baud" yaml:"Baud"`

	// Rate caps telegrams per second, 0 for no cap
	Rate float64 `koanf:"Rate" yaml:"Rate"`

	// Monitor is the telegram address of the monitor on the target
	Monitor int `koanf:"Monitor" yaml:"Monitor"`

	// Listen, for a sim target, serves the simulated registers to telegram
	// clients at this TCP address
	Listen string `koanf:"Listen" yaml:"Listen"`
}

// Stream is one DMA stream and its transfer configuration
type Stream struct {
	// Endpoint is the URL stem the stream is served on, e.g. /uart2/tx
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	Target     string `koanf:"Target" yaml:"Target"`
	Controller string `koanf:"Controller" yaml:"Controller"`
	Stream     int    `koanf:"Stream" yaml:"Stream"`

	Direction           string `koanf:"Direction" yaml:"Direction"`
	PeripheralSize      string `koanf:"PeripheralSize" yaml:"PeripheralSize"`
	PeripheralIncrement bool   `koanf:"PeripheralIncrement" yaml:"PeripheralIncrement"`
	PeripheralAddress   string `koanf:"PeripheralAddress" yaml:"PeripheralAddress"`
	MemorySize          string `koanf:"MemorySize" yaml:"MemorySize"`
	MemoryIncrement     bool   `koanf:"MemoryIncrement" yaml:"MemoryIncrement"`
	Memory0Address      string `koanf:"Memory0Address" yaml:"Memory0Address"`
	Memory1Address      string `koanf:"Memory1Address" yaml:"Memory1Address"`
	Count               int    `koanf:"Count" yaml:"Count"`
	Priority            string `koanf:"Priority" yaml:"Priority"`
	Circular            bool   `koanf:"Circular" yaml:"Circular"`
	IncrementOffset     string `koanf:"IncrementOffset" yaml:"IncrementOffset"`
	DoubleBuffer        bool   `koanf:"DoubleBuffer" yaml:"DoubleBuffer"`
	BufferedTransfers   bool   `koanf:"BufferedTransfers" yaml:"BufferedTransfers"`
	FlowController      string `koanf:"FlowController" yaml:"FlowController"`
	PeripheralBurst     string `koanf:"PeripheralBurst" yaml:"PeripheralBurst"`
	MemoryBurst         string `koanf:"MemoryBurst" yaml:"MemoryBurst"`

	// Interrupts are enabled after the stream is configured
	Interrupts []string `koanf:"Interrupts" yaml:"Interrupts"`

	// FifoMode turns off direct mode
	FifoMode      bool   `koanf:"FifoMode" yaml:"FifoMode"`
	FifoThreshold string `koanf:"FifoThreshold" yaml:"FifoThreshold"`
}

// Config is a bench
type Config struct {
	// Addr is the address dmasrv listens at
	Addr string `koanf:"Addr" yaml:"Addr"`

	Targets []Target `koanf:"Targets" yaml:"Targets"`
	Streams []Stream `koanf:"Streams" yaml:"Streams"`
}

// Default is a simulated bench with the USART2 transmit stream on it
func Default() Config {
	return Config{
		Addr:    ":8000",
		Targets: []Target{{Name: Sim, Transport: Sim, Monitor: 0x10}},
		Streams: []Stream{{
			Endpoint:          "/uart2/tx",
			Target:            Sim,
			Controller:        "DMA1",
			Stream:            5,
			Direction:         "mem2periph",
			PeripheralAddress: "0x40004428",
			MemoryIncrement:   true,
			Memory0Address:    "0x24000000",
			Count:             128,
			Interrupts:        []string{"complete", "error"},
		}},
	}
}

// Load reads the file at path over Default.  A missing file is not an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	c := Config{}
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, err
	}
	f := koanf.New(".")
	if err := f.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return c, fmt.Errorf("dmacfg: loading %s: %w", path, err)
		}
	} else if err := k.Merge(f); err != nil {
		return c, err
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, err
	}
	// the default stream names the default target
	if f.Exists("Targets") && !f.Exists("Streams") {
		c.Streams = nil
	}
	return c, nil
}

// Identity returns the controller and stream index
func (s Stream) Identity() (dma.Identity, error) {
	c, err := dma.ParseController(s.Controller)
	if err != nil {
		return dma.Identity{}, err
	}
	if s.Stream < 0 || s.Stream > 0xFF {
		return dma.Identity{}, fmt.Errorf("%w: %d", dma.ErrUnmappedStream, s.Stream)
	}
	id := dma.Identity{Controller: c, Stream: dma.StreamIndex(s.Stream)}
	return id, id.Validate()
}

// orZero runs parse unless s is empty
func orZero[T any](s string, parse func(string) (T, error)) (T, error) {
	var zero T
	if s == "" {
		return zero, nil
	}
	return parse(s)
}

func address(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	return util.ParseUint32(s)
}

// DMAConfig converts the stream's fields to a dma.Config.  It parses but
// does not validate; dma.New does that.
func (s Stream) DMAConfig() (dma.Config, error) {
	var (
		c   = dma.Config{Count: s.Count}
		err error
	)
	c.PeripheralIncrement = s.PeripheralIncrement
	c.MemoryIncrement = s.MemoryIncrement
	c.Circular = s.Circular
	c.DoubleBuffer = s.DoubleBuffer
	c.BufferedTransfers = s.BufferedTransfers

	steps := []func() error{
		func() (err error) { c.Direction, err = orZero(s.Direction, dma.ParseDirection); return },
		func() (err error) { c.PeripheralSize, err = orZero(s.PeripheralSize, dma.ParseDataSize); return },
		func() (err error) { c.MemorySize, err = orZero(s.MemorySize, dma.ParseDataSize); return },
		func() (err error) { c.Priority, err = orZero(s.Priority, dma.ParsePriority); return },
		func() (err error) { c.IncrementOffset, err = orZero(s.IncrementOffset, dma.ParseIncrementOffset); return },
		func() (err error) { c.FlowController, err = orZero(s.FlowController, dma.ParseFlowController); return },
		func() (err error) { c.PeripheralBurst, err = orZero(s.PeripheralBurst, dma.ParseBurstSize); return },
		func() (err error) { c.MemoryBurst, err = orZero(s.MemoryBurst, dma.ParseBurstSize); return },
		func() (err error) { c.PeripheralAddress, err = address(s.PeripheralAddress); return },
		func() (err error) { c.Memory0Address, err = address(s.Memory0Address); return },
		func() (err error) { c.Memory1Address, err = address(s.Memory1Address); return },
	}
	for _, step := range steps {
		if err = step(); err != nil {
			return c, err
		}
	}
	return c, nil
}

// settings are the parts of a Stream applied after dma.New
type settings struct {
	threshold dma.Threshold
	kinds     []dma.Interrupt
}

func (s Stream) parse() (dma.Identity, dma.Config, settings, error) {
	var set settings
	id, err := s.Identity()
	if err != nil {
		return id, dma.Config{}, set, err
	}
	cfg, err := s.DMAConfig()
	if err != nil {
		return id, cfg, set, err
	}
	set.threshold, err = orZero(s.FifoThreshold, dma.ParseThreshold)
	if err != nil {
		return id, cfg, set, err
	}
	for _, name := range s.Interrupts {
		k, err := dma.ParseInterrupt(name)
		if err != nil {
			return id, cfg, set, err
		}
		set.kinds = append(set.kinds, k)
	}
	return id, cfg, set, nil
}

// Apply configures the stream on bus: dma.New, then threshold, FIFO mode and
// interrupts.  Nothing is written if any field fails to parse or validate,
// and an error held by the bus afterwards fails the whole call.
func (s Stream) Apply(bus reg.Bus) (*dma.Stream, error) {
	id, cfg, set, err := s.parse()
	if err != nil {
		return nil, err
	}
	st, err := dma.New(bus, id, cfg)
	if err != nil {
		return nil, err
	}
	if s.FifoThreshold != "" {
		st.SetFifoThreshold(set.threshold)
	}
	if s.FifoMode {
		st.SetDirectMode(false)
	}
	if len(set.kinds) > 0 {
		st.EnableInterrupt(set.kinds...)
	}
	if err := held(bus); err != nil {
		return nil, fmt.Errorf("dmacfg: configuring %s: %w", id, err)
	}
	return st, nil
}

// held returns the error a bus like comm.Remote holds after a failed access.
// reg.Bus methods cannot return one.
func held(bus reg.Bus) error {
	if e, ok := bus.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// Open returns the stream as already configured on bus, writing nothing
func (s Stream) Open(bus reg.Bus) (*dma.Stream, error) {
	id, cfg, _, err := s.parse()
	if err != nil {
		return nil, err
	}
	return dma.Open(bus, id, cfg)
}

// IsChannel reports whether the stream is a BDMA channel
func (s Stream) IsChannel() bool {
	return strings.EqualFold(s.Controller, BDMA)
}

// ChannelConfig converts the fields of a BDMA channel.  Fields for hardware
// the BDMA lacks must be empty.
func (s Stream) ChannelConfig() (bdma.Config, error) {
	unsupported := []struct {
		field string
		set   bool
	}{
		{"IncrementOffset", s.IncrementOffset != ""},
		{"BufferedTransfers", s.BufferedTransfers},
		{"FlowController", s.FlowController != ""},
		{"PeripheralBurst", s.PeripheralBurst != ""},
		{"MemoryBurst", s.MemoryBurst != ""},
		{"FifoMode", s.FifoMode},
		{"FifoThreshold", s.FifoThreshold != ""},
	}
	for _, u := range unsupported {
		if u.set {
			return bdma.Config{}, &dma.ConfigError{Field: u.field, Reason: "is not available on BDMA"}
		}
	}
	c, err := s.DMAConfig()
	if err != nil {
		return bdma.Config{}, err
	}
	return bdma.Config{
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
	}, nil
}

// ApplyChannel configures a BDMA channel on bus and enables its interrupts,
// with the same all-or-nothing checks as Apply
func (s Stream) ApplyChannel(bus reg.Bus) (*bdma.Channel, error) {
	if !s.IsChannel() {
		return nil, fmt.Errorf("dmacfg: %s is on %s, not %s", s.Endpoint, s.Controller, BDMA)
	}
	if s.Stream < 0 || s.Stream > 7 {
		return nil, fmt.Errorf("%w: %d", bdma.ErrUnmappedChannel, s.Stream)
	}
	i := bdma.Index(s.Stream)
	cfg, err := s.ChannelConfig()
	if err != nil {
		return nil, err
	}
	var kinds []dma.Interrupt
	for _, name := range s.Interrupts {
		k, err := dma.ParseInterrupt(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(bdma.Interrupts, k) {
			return nil, &dma.ConfigError{Field: "Interrupts", Reason: fmt.Sprintf("%s is not available on BDMA", k)}
		}
		kinds = append(kinds, k)
	}
	c, err := bdma.New(bus, i, cfg)
	if err != nil {
		return nil, err
	}
	if len(kinds) > 0 {
		c.EnableInterrupt(kinds...)
	}
	if err := held(bus); err != nil {
		return nil, fmt.Errorf("dmacfg: configuring BDMA %s: %w", i, err)
	}
	return c, nil
}

// Node is a stream or BDMA channel configured on its target's bus.  Exactly
// one of Stream and Channel is set.
type Node struct {
	Endpoint string
	Stream   *dma.Stream
	Channel  *bdma.Channel
	Bus      reg.Bus
}

// Bench is a built Config
type Bench struct {
	Buses map[string]reg.Bus
	Nodes []Node

	closers []func() error
}

// Close closes every link and monitor listener opened by Build
func (b *Bench) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// OpenTarget returns the bus of a target.  Remote targets are connected and
// devmem targets mapped.  A sim target gets a fresh simulated register file
// with both DMA controllers and the BDMA modeled, and a telegram monitor when
// Listen is set.  closer releases whatever was opened.
func OpenTarget(t Target) (reg.Bus, func() error, error) {
	if t.Transport == Sim {
		sim := regsim.New()
		sim.SetLogging(false)
		opts := dma.SimOptions{CompleteOnEnable: true}
		dma.Attach(sim, dma.DMA1, opts)
		dma.Attach(sim, dma.DMA2, opts)
		bdma.Attach(sim, opts)
		if t.Listen == "" {
			return sim, func() error { return nil }, nil
		}
		ln, err := net.Listen("tcp", t.Listen)
		if err != nil {
			return nil, nil, err
		}
		m := &monitor.Monitor{Addr: byte(t.Monitor), Bus: sim}
		go func() {
			if err := m.ServeListener(ln); err != nil {
				log.Printf("dmacfg: monitor for %s stopped: %v", t.Name, err)
			}
		}()
		log.Printf("serving simulated target %s at %s", t.Name, ln.Addr())
		return sim, ln.Close, nil
	}

	if t.Transport == Devmem {
		return openDevmem()
	}

	r := comm.NewRemote(t.Addr, t.Transport, byte(t.Monitor))
	if t.Baud != 0 {
		r.Baud = t.Baud
	}
	r.SetRate(t.Rate)
	if err := r.Open(); err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// Connect returns the bus of a target as seen by a client of the process
// serving it.  Remote targets are connected as by OpenTarget; a sim target
// is reached through its monitor at Listen.
func Connect(t Target) (reg.Bus, func() error, error) {
	if t.Transport == Sim {
		if t.Listen == "" {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotServed, t.Name)
		}
		t.Transport, t.Addr = comm.TCP, t.Listen
	}
	return OpenTarget(t)
}

// Build opens every target and applies every stream.  On any error,
// including one held by a target's bus after a stream is written, everything
// opened so far is closed and no Bench is returned.
func Build(c Config) (*Bench, error) {
	b := &Bench{Buses: map[string]reg.Bus{}}
	fail := func(err error) (*Bench, error) {
		b.Close()
		return nil, err
	}
	for _, t := range c.Targets {
		if _, ok := b.Buses[t.Name]; ok {
			return fail(fmt.Errorf("%w target %q", ErrDuplicate, t.Name))
		}
		bus, closer, err := OpenTarget(t)
		if err != nil {
			return fail(fmt.Errorf("dmacfg: target %s: %w", t.Name, err))
		}
		b.Buses[t.Name] = bus
		b.closers = append(b.closers, closer)
	}
	seen := map[string]bool{}
	for _, s := range c.Streams {
		if seen[s.Endpoint] {
			return fail(fmt.Errorf("%w endpoint %q", ErrDuplicate, s.Endpoint))
		}
		seen[s.Endpoint] = true
		bus, ok := b.Buses[s.Target]
		if !ok {
			return fail(fmt.Errorf("%w %q for %s", ErrUnknownTarget, s.Target, s.Endpoint))
		}
		n := Node{Endpoint: s.Endpoint, Bus: bus}
		var err error
		if s.IsChannel() {
			n.Channel, err = s.ApplyChannel(bus)
		} else {
			n.Stream, err = s.Apply(bus)
		}
		if err != nil {
			return fail(fmt.Errorf("dmacfg: stream %s: %w", s.Endpoint, err))
		}
		b.Nodes = append(b.Nodes, n)
	}
	return b, nil
}

// Find returns the configured stream with the given endpoint
func (c Config) Find(endpoint string) (Stream, bool) {
	want := strings.Trim(endpoint, "/")
	for _, s := range c.Streams {
		if strings.Trim(s.Endpoint, "/") == want {
			return s, true
		}
	}
	return Stream{}, false
}

// FindTarget returns the configured target with the given name
func (c Config) FindTarget(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}
