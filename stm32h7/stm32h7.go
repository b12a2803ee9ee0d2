// Package stm32h7 holds the pieces of the STM32H7 memory map used by the
// DMA drivers.  Values are from RM0433 (STM32H742/743/753/750).
package stm32h7

const (
	// D2APB1PeriphBase is the base of the D2 domain APB1 bus
	D2APB1PeriphBase = 0x4000_0000

	// D2AHB1PeriphBase is the base of the D2 domain AHB1 bus
	D2AHB1PeriphBase = 0x4002_0000

	// D3AHB1PeriphBase is the base of the D3 domain AHB1 bus
	D3AHB1PeriphBase = 0x5802_0000

	// DMA1Base is the base of the first general purpose DMA controller
	DMA1Base = D2AHB1PeriphBase + 0x0000

	// DMA2Base is the base of the second general purpose DMA controller
	DMA2Base = D2AHB1PeriphBase + 0x0400

	// BDMABase is the base of the basic DMA controller in D3
	BDMABase = D3AHB1PeriphBase + 0x5400

	// DMAStreamOffset is the offset of stream 0's block from its controller
	DMAStreamOffset = 0x010

	// DMAStreamStride is the size of one stream block
	DMAStreamStride = 0x018

	// BDMAChannelOffset is the offset of channel 0's block from the BDMA base
	BDMAChannelOffset = 0x008

	// BDMAChannelStride is the size of one BDMA channel block
	BDMAChannelStride = 0x014
)

// Data registers of a few peripherals commonly used as DMA endpoints
const (
	USART2TDR = D2APB1PeriphBase + 0x4400 + 0x28
	USART2RDR = D2APB1PeriphBase + 0x4400 + 0x24
	SPI2TXDR  = D2APB1PeriphBase + 0x3800 + 0x20
	SPI2RXDR  = D2APB1PeriphBase + 0x3800 + 0x30

	// AXISRAMBase is the start of the 512 KiB AXI SRAM, reachable by DMA1/DMA2
	AXISRAMBase = 0x2400_0000
)
