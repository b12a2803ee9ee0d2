// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// JoinStringers joins the String forms of s with sep.
// e.g., []dma.Interrupt{TransferComplete, TransferError} => "complete,error"
func JoinStringers[T fmt.Stringer](s []T, sep string) string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.String()
	}
	return strings.Join(out, sep)
}

// GetBit returns the value of a given bit in a word
func GetBit(w uint32, bitIndex uint) bool {
	return w&(1<<bitIndex) != 0
}

// SetBit returns w with the given bit set or cleared
func SetBit(w uint32, bitIndex uint, on bool) uint32 {
	if on {
		return w | 1<<bitIndex
	}
	return w &^ (1 << bitIndex)
}

// ParseUint32 parses a 32-bit value written in decimal, or in hex, octal, or
// binary with a 0x, 0o, or 0b prefix.  Underscores are allowed as in Go
// literals, so register addresses can be written 0x4002_0010.
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("util: %q is not a 32-bit value: %w", s, err)
	}
	return uint32(v), nil
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
