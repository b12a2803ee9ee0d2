package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/h7dma/dmacfg"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dmasrv.yml"
)

func loadconfig() dmacfg.Config {
	c, err := dmacfg.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func root() {
	str := `dmasrv configures DMA streams on STM32H7 targets and exposes an HTTP
interface to them.  Targets are reached over a serial, TCP, or USB link to a
register monitor, or simulated in process.

Usage:
	dmasrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `dmasrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration file, the server simulates one target and serves the
USART2 transmit stream (DMA1 stream 5) at /uart2/tx.  mkconf writes that
configuration out as a starting point.

Targets have a Name referenced by streams and a Transport:
- serial, Addr is the device, e.g. /dev/ttyACM0, Baud the line rate
- tcp, Addr is host:port
- usb, Addr is VID:PID, e.g. 0483:5740
- devmem, registers are mapped through /dev/mem, on a Linux host that shares
  the DMA block (e.g. STM32MP1).  Needs root.
- sim, registers are simulated.  Listen, if set, serves them to other
  clients (dmactl) at a TCP address.

Rate caps telegrams per second on a link and Monitor is the telegram address
of the register monitor on the target.

Streams name an Endpoint, a Target, a Controller (DMA1, DMA2) and a Stream
(0-7), then the transfer configuration.  Enumerated fields use the names
printed by the server, e.g. Direction: mem2periph, MemorySize: halfword,
Priority: veryhigh, PeripheralBurst: incr4.  Interrupts is a list of
complete, half, error, direct, fifo.

No two streams can have the same Endpoint.

Endpoints may look like any variation between "uart2/tx" or "/uart2/tx/*", the
leading and trailing slashes, as well as the *, are handled by the server.

GET /endpoints lists every route.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("dmasrv version %v\n", Version)
}

func run() {
	c := loadconfig()
	if len(c.Streams) == 0 {
		log.Fatal("no streams configured")
	}
	bench, err := dmacfg.Build(c)
	if err != nil {
		log.Fatal(err)
	}
	defer bench.Close()
	mux := BuildMux(bench)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
