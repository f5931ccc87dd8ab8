package memdev

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeek(t *testing.T) {
	tests := []struct {
		name   string
		moves  [][2]int64
		offset int64
		valid  bool
	}{
		{name: "start/negative", moves: [][2]int64{{-1, io.SeekStart}}},
		{name: "start/zero", moves: [][2]int64{{0, io.SeekStart}}, offset: 0, valid: true},
		{name: "start/middle", moves: [][2]int64{{5, io.SeekStart}}, offset: 5, valid: true},
		{name: "start/end", moves: [][2]int64{{10, io.SeekStart}}, offset: 10, valid: true},
		{name: "start/past end", moves: [][2]int64{{11, io.SeekStart}}},
		{name: "current/negative", moves: [][2]int64{{-1, io.SeekCurrent}}},
		{name: "current/forward", moves: [][2]int64{{10, io.SeekCurrent}}, offset: 10, valid: true},
		{name: "current/past end", moves: [][2]int64{{10, io.SeekCurrent}, {1, io.SeekCurrent}}},
		{name: "current/back", moves: [][2]int64{{10, io.SeekCurrent}, {-5, io.SeekCurrent}}, offset: 5, valid: true},
		{name: "end/zero", moves: [][2]int64{{0, io.SeekEnd}}, offset: 10, valid: true},
		{name: "end/past end", moves: [][2]int64{{1, io.SeekEnd}}},
		{name: "end/beginning", moves: [][2]int64{{-10, io.SeekEnd}}, offset: 0, valid: true},
		{name: "end/before beginning", moves: [][2]int64{{-11, io.SeekEnd}}},
		{name: "invalid whence", moves: [][2]int64{{0, 42}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			requireT := require.New(t)

			dev := newDev()
			var o int64
			var err error
			for _, m := range tc.moves {
				o, err = dev.Seek(m[0], int(m[1]))
			}
			if !tc.valid {
				requireT.Error(err)
				requireT.EqualValues(0, o)
				return
			}
			requireT.NoError(err)
			requireT.Equal(tc.offset, o)

			o, err = dev.Seek(0, io.SeekCurrent)
			requireT.NoError(err)
			requireT.Equal(tc.offset, o)
		})
	}
}

func TestRead(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()

	n, err := dev.Read(nil)
	assertT.NoError(err)
	assertT.EqualValues(0, n)

	buf := make([]byte, 3)
	n, err = dev.Read(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues([]byte{0x00, 0x01, 0x02}, buf)

	o, err := dev.Seek(-1, io.SeekEnd)
	assertT.NoError(err)
	assertT.EqualValues(9, o)
	n, err = dev.Read(buf)
	assertT.NoError(err)
	assertT.EqualValues(1, n)
	assertT.EqualValues([]byte{0x09, 0x01, 0x02}, buf)

	// End of device

	n, err = dev.Read(buf)
	assertT.ErrorIs(err, io.EOF)
	assertT.EqualValues(0, n)
}

func TestWriteGrows(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()

	n, err := dev.Write(nil)
	assertT.NoError(err)
	assertT.EqualValues(0, n)

	buf := []byte{0x10, 0x11, 0x12}
	o, err := dev.Seek(1, io.SeekStart)
	assertT.NoError(err)
	assertT.EqualValues(1, o)
	n, err = dev.Write(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues([]byte{0x00, 0x10, 0x11, 0x12, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, dev.Bytes())

	o, err = dev.Seek(-1, io.SeekEnd)
	assertT.NoError(err)
	assertT.EqualValues(9, o)
	n, err = dev.Write(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues(12, dev.Size())
	assertT.EqualValues([]byte{0x00, 0x10, 0x11, 0x12, 0x04, 0x05, 0x06, 0x07, 0x08, 0x10, 0x11, 0x12}, dev.Bytes())

	o, err = dev.Seek(0, io.SeekCurrent)
	assertT.NoError(err)
	assertT.EqualValues(12, o)
}

func TestEmptyDev(t *testing.T) {
	assertT := assert.New(t)

	dev := New(0)
	assertT.EqualValues(0, dev.Size())

	_, err := dev.Read(make([]byte, 1))
	assertT.ErrorIs(err, io.EOF)

	n, err := dev.Write([]byte{0x01})
	assertT.NoError(err)
	assertT.EqualValues(1, n)
	assertT.EqualValues(1, dev.Size())
	assertT.NoError(dev.Sync())
}

func newDev() *MemDev {
	const size = 10

	dev := New(size)
	for i := 0; i < size; i++ {
		dev.data[i] = byte(i)
	}

	return dev
}
