// Command dmactl configures and watches one DMA stream of a dmasrv
// configuration from the command line
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/dmacfg"
)

var (
	configFile string
	endpoint   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dmactl",
	Short: "dmactl configures and watches DMA streams on STM32H7 targets.",
	Long: `dmactl reads the same configuration file as dmasrv and acts on the ` +
		`stream selected with --stream.  Simulated targets are reached through ` +
		`the monitor of the dmasrv serving them, at their Listen address.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "dmasrv.yml", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "stream", "s", "", "endpoint of the stream, e.g. /uart2/tx")
}

// handle is a stream on a connected bus
type handle struct {
	cfg    dmacfg.Stream
	stream *dma.Stream
	bus    interface{ Err() error }
	close  func() error
}

// Err returns the error held by the link, if any
func (h *handle) Err() error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Err()
}

// connect resolves --stream and connects to its target.  apply chooses
// between configuring the stream and opening it as configured.
func connect(apply bool) (*handle, error) {
	c, err := dmacfg.Load(configFile)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		if len(c.Streams) != 1 {
			return nil, fmt.Errorf("--stream is required with %d streams configured", len(c.Streams))
		}
		endpoint = c.Streams[0].Endpoint
	}
	s, ok := c.Find(endpoint)
	if !ok {
		return nil, fmt.Errorf("no stream at %s", endpoint)
	}
	if s.IsChannel() {
		return nil, fmt.Errorf("%s is a BDMA channel; serve it with dmasrv", s.Endpoint)
	}
	t, ok := c.FindTarget(s.Target)
	if !ok {
		return nil, fmt.Errorf("%w %q for %s", dmacfg.ErrUnknownTarget, s.Target, s.Endpoint)
	}
	bus, closer, err := dmacfg.Connect(t)
	if err != nil {
		return nil, err
	}
	h := &handle{cfg: s, close: closer}
	if e, ok := bus.(interface{ Err() error }); ok {
		h.bus = e
	}
	if apply {
		h.stream, err = s.Apply(bus)
	} else {
		h.stream, err = s.Open(bus)
	}
	if err != nil {
		closer()
		return nil, err
	}
	return h, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func main() {
	log.SetFlags(0)
	Execute()
}
