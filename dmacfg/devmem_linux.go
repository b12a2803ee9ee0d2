package dmacfg

import (
	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/stm32h7"
)

// pages holding the DMA1, DMA2 and BDMA register blocks
var devmemPages = []uint32{
	stm32h7.DMA1Base &^ 0xFFF,
	stm32h7.BDMABase &^ 0xFFF,
}

// openDevmem maps the DMA register pages through /dev/mem, for a Linux
// host sharing the DMA block, e.g. an STM32MP1
func openDevmem() (reg.Bus, func() error, error) {
	var ws reg.Windows
	var unmaps []func() error
	closeAll := func() error {
		var first error
		for _, u := range unmaps {
			if err := u(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, base := range devmemPages {
		w, unmap, err := reg.Map(base, 0x1000)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ws = append(ws, w)
		unmaps = append(unmaps, unmap)
	}
	return ws, closeAll, nil
}
