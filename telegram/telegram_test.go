package telegram

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleEncode() {
	m := Request(Write, 0x10, 0xA1, 0x4002_0010, 0x40)
	frame, _ := Encode(m)
	fmt.Printf("% X\n", frame)
	// Output: 0D 10 A1 05 40 02 00 10 40 00 00 00 6C 78 0A
}

func TestChecksumXMODEM(t *testing.T) {
	assert.Equal(t, []byte{0x31, 0xC3}, checksum([]byte("123456789")))
}

func TestEscapeRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x0A, 0x0D, 0x5E, 0x5F, 0xFF}
	esc := escapeSpecial(raw)
	assert.Equal(t, []byte{0x00, 0x5E, 0x4A, 0x5E, 0x4D, 0x5E, 0x9E, 0x5F, 0xFF}, esc)
	assert.NotContains(t, string(esc), "\n")
	assert.NotContains(t, string(esc), "\r")
	assert.Equal(t, raw, unescapeSpecial(esc))
}

func TestEncodeDecode(t *testing.T) {
	m := Request(WriteSet, 0x10, 0xA1, 0x4002_000D, 0x0A0D_5E01)
	frame, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, byte(sot), frame[0])
	assert.Equal(t, byte(eot), frame[len(frame)-1])
	assert.Equal(t, 1, bytes.Count(frame, []byte{eot}))
	assert.Equal(t, 1, bytes.Count(frame, []byte{sot}))

	got, err := Decode(append([]byte("noise"), frame...))
	require.NoError(t, err)
	assert.Equal(t, m, got)
	v, err := got.Value()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0A0D_5E01), v)
}

func TestReadHasNoData(t *testing.T) {
	frame, err := Encode(Request(Read, 0x10, 0xA2, 0x5802_5400, 0xFFFF))
	require.NoError(t, err)
	m, err := Decode(frame)
	require.NoError(t, err)
	assert.Nil(t, m.Data)
	_, err = m.Value()
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	good, err := Encode(Request(Write, 1, 2, 3, 4))
	require.NoError(t, err)

	_, err = Decode(good[1:])
	assert.ErrorIs(t, err, ErrNoStart)

	_, err = Decode(good[:len(good)-1])
	assert.ErrorIs(t, err, ErrNoEnd)

	_, err = Decode([]byte{sot, 1, 2, 3, eot})
	assert.ErrorIs(t, err, ErrShort)

	bad := append([]byte(nil), good...)
	bad[5] ^= 0x01
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrCRC)

	_, err = Encode(Message{Type: Write, Data: make([]byte, 5)})
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestReplyErrors(t *testing.T) {
	req := Request(Read, 0x10, 0xA1, 0x100, 0)
	cases := map[Type]error{
		Nack:     ErrNack,
		CRCError: ErrCRC,
		Busy:     ErrBusy,
		Ack:      nil,
		Datagram: nil,
	}
	for typ, want := range cases {
		r := Reply(req, typ, nil)
		assert.Equal(t, byte(0xA1), r.Dest)
		assert.Equal(t, byte(0x10), r.Src)
		if want == nil {
			assert.NoError(t, r.Err(), typ.String())
		} else {
			assert.ErrorIs(t, r.Err(), want, typ.String())
		}
	}
	assert.Error(t, Reply(req, Write, nil).Err())
}

func TestReadFrame(t *testing.T) {
	a, _ := Encode(Request(Read, 1, 2, 0x10, 0))
	b, _ := Encode(Reply(Request(Read, 1, 2, 0x10, 0), Datagram, ValueBytes(7)))
	stream := append([]byte{0xFF, 0x00}, a...)
	stream = append(stream, b...)
	r := bufio.NewReader(bytes.NewReader(stream))

	f, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, a, f)
	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, b, f)
	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextSourceWraps(t *testing.T) {
	seen := map[byte]bool{}
	for i := 0; i < 2*(0x100-MinSource); i++ {
		s := NextSource()
		assert.GreaterOrEqual(t, s, byte(MinSource))
		seen[s] = true
	}
	assert.Len(t, seen, 0x100-MinSource)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Write SET", WriteSet.String())
	assert.Equal(t, "Type(42)", Type(42).String())
	assert.True(t, WriteTgl.IsRequest())
	assert.False(t, Datagram.IsRequest())
}
