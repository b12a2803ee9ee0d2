package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/h7dma/dma"
	"github.com/nasa-jpl/h7dma/dmahttp"
	"github.com/nasa-jpl/h7dma/util"
)

// out is where commands print; tests replace it
var out io.Writer = os.Stdout

// withStream runs fn on the selected stream and reports any link error
func withStream(apply bool, fn func(h *handle) error) error {
	h, err := connect(apply)
	if err != nil {
		return err
	}
	defer h.close()
	if err := fn(h); err != nil {
		return err
	}
	return h.Err()
}

func parseKinds(args []string) ([]dma.Interrupt, error) {
	if len(args) == 0 {
		return dma.Interrupts, nil
	}
	kinds := make([]dma.Interrupt, 0, len(args))
	for _, a := range args {
		k, err := dma.ParseInterrupt(a)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Write the stream's configuration, leaving it disabled.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStream(true, func(h *handle) error {
			v := dmahttp.View(h.stream.Identity(), h.stream.Config())
			fmt.Fprintf(out, "%s: %s %s, %d items\n", h.cfg.Endpoint, h.stream.Identity(), v.Direction, v.Count)
			return nil
		})
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start the stream's transfer.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStream(false, func(h *handle) error {
			h.stream.Enable()
			return nil
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop the stream's transfer.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStream(false, func(h *handle) error {
			h.stream.Disable()
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stream's state and pending flags.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStream(false, func(h *handle) error {
			s := h.stream
			var enabled []dma.Interrupt
			for _, k := range dma.Interrupts {
				if s.InterruptEnabled(k) {
					enabled = append(enabled, k)
				}
			}
			fmt.Fprintf(out, "stream     %s at %s\n", s.Identity(), h.cfg.Endpoint)
			fmt.Fprintf(out, "enabled    %v\n", s.Enabled())
			fmt.Fprintf(out, "target     %s\n", s.TargetMemory())
			fmt.Fprintf(out, "remaining  %d\n", s.Remaining())
			fmt.Fprintf(out, "interrupts %s\n", util.JoinStringers(enabled, ","))
			fmt.Fprintf(out, "flags      %s\n", util.JoinStringers(s.PendingFlags(), ","))
			fmt.Fprintf(out, "fifo       %s, threshold %s, direct %v\n", s.FifoStatus(), s.FifoThreshold(), s.DirectMode())
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [kind...]",
	Short: "Clear interrupt flags, all of them when no kind is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(args)
		if err != nil {
			return err
		}
		return withStream(false, func(h *handle) error {
			h.stream.ClearInterruptFlag(kinds...)
			return nil
		})
	},
}

var (
	waitTimeout  time.Duration
	waitInterval time.Duration
	waitQuiet    bool
)

// waitFor polls until one of kinds is raised, pacing reads with a limiter.
// It returns the first raised kinds.
func waitFor(ctx context.Context, s *dma.Stream, link *handle, kinds []dma.Interrupt, every time.Duration, progress func(remaining int)) ([]dma.Interrupt, error) {
	lim := rate.NewLimiter(rate.Every(every), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
		var hit []dma.Interrupt
		for _, k := range s.PendingFlags() {
			for _, want := range kinds {
				if k == want {
					hit = append(hit, k)
				}
			}
		}
		if err := link.Err(); err != nil {
			return nil, err
		}
		if len(hit) > 0 {
			return hit, nil
		}
		if progress != nil {
			progress(s.Remaining())
		}
	}
}

var waitCmd = &cobra.Command{
	Use:   "wait [kind...]",
	Short: "Wait for interrupt flags, transfer complete or error by default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := []dma.Interrupt{dma.TransferComplete, dma.TransferError}
		if len(args) > 0 {
			var err error
			if kinds, err = parseKinds(args); err != nil {
				return err
			}
		}
		return withStream(false, func(h *handle) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
			defer cancel()

			var progress func(int)
			var spinner *yacspin.Spinner
			if !waitQuiet {
				var err error
				spinner, err = yacspin.New(yacspin.Config{
					Frequency:         100 * time.Millisecond,
					CharSet:           yacspin.CharSets[11],
					Suffix:            " waiting for " + util.JoinStringers(kinds, "|"),
					SuffixAutoColon:   true,
					StopCharacter:     "✓",
					StopColors:        []string{"fgGreen"},
					StopFailCharacter: "✗",
					StopFailColors:    []string{"fgRed"},
					Writer:            out,
				})
				if err != nil {
					return err
				}
				if err = spinner.Start(); err != nil {
					return err
				}
				progress = func(n int) { spinner.Message(fmt.Sprintf("%d items remaining", n)) }
			}

			hit, err := waitFor(ctx, h.stream, h, kinds, waitInterval, progress)
			if spinner != nil {
				if err != nil {
					spinner.StopFailMessage(err.Error())
					spinner.StopFail()
				} else {
					spinner.StopMessage(util.JoinStringers(hit, ","))
					spinner.Stop()
				}
			} else if err == nil {
				fmt.Fprintln(out, util.JoinStringers(hit, ","))
			}
			if err != nil {
				return err
			}
			for _, k := range hit {
				if k == dma.TransferError {
					return fmt.Errorf("%s raised %s", h.stream.Identity(), k)
				}
			}
			return nil
		})
	},
}

func init() {
	waitCmd.Flags().DurationVarP(&waitTimeout, "timeout", "t", 10*time.Second, "give up after this long")
	waitCmd.Flags().DurationVarP(&waitInterval, "interval", "i", 50*time.Millisecond, "time between polls")
	waitCmd.Flags().BoolVarP(&waitQuiet, "quiet", "q", false, "no spinner")
	rootCmd.AddCommand(applyCmd, enableCmd, disableCmd, statusCmd, clearCmd, waitCmd)
}
