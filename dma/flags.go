package dma

import "fmt"

// FlagRegister selects the low (streams 0-3) or high (streams 4-7) pair of
// interrupt status and clear registers
type FlagRegister int

const (
	// FlagLow is LISR/LIFCR
	FlagLow FlagRegister = iota

	// FlagHigh is HISR/HIFCR
	FlagHigh
)

func (f FlagRegister) String() string {
	if f == FlagHigh {
		return "high"
	}
	return "low"
}

func (f FlagRegister) statusOffset() uint32 {
	if f == FlagHigh {
		return regHISR
	}
	return regLISR
}

func (f FlagRegister) clearOffset() uint32 {
	if f == FlagHigh {
		return regHIFCR
	}
	return regLIFCR
}

// flagGroupWidth is the spacing between the flag groups of consecutive
// streams in a status or clear register
const flagGroupWidth = 5

// Locate returns the status/clear register pair holding the stream's flags
// and the bit offset of its flag group within them.  Groups are 5 bits apart,
// so the TC bit of one stream is the FE bit of the next.
func Locate(s StreamIndex) (FlagRegister, uint32, error) {
	if s > Stream7 {
		return FlagLow, 0, fmt.Errorf("%w: %d", ErrUnmappedStream, uint8(s))
	}
	r := FlagLow
	if s >= Stream4 {
		r = FlagHigh
	}
	return r, flagGroupWidth * (uint32(s) % 4), nil
}

// FlagAddresses returns the absolute addresses of the status and clear
// registers holding the flags of id
func FlagAddresses(id Identity) (status, clr uint32, err error) {
	r, _, err := Locate(id.Stream)
	if err != nil {
		return 0, 0, err
	}
	base := uint32(id.Controller)
	return base + r.statusOffset(), base + r.clearOffset(), nil
}
