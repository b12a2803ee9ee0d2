//go:build !linux

package dmacfg

import (
	"fmt"
	"runtime"

	"github.com/nasa-jpl/h7dma/reg"
)

func openDevmem() (reg.Bus, func() error, error) {
	return nil, nil, fmt.Errorf("dmacfg: %s transport is not available on %s", Devmem, runtime.GOOS)
}
