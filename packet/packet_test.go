package packet

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawHeader() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(b[0:], Magic)
	b[4] = 1
	b[5] = byte(Audio)
	b[6] = 7
	b[7] = FlagKeyFrame
	binary.BigEndian.PutUint32(b[8:], 42)
	binary.BigEndian.PutUint64(b[12:], 123456789)
	binary.BigEndian.PutUint32(b[20:], 6)
	binary.BigEndian.PutUint16(b[24:], 1)
	binary.BigEndian.PutUint16(b[26:], 2)
	binary.BigEndian.PutUint16(b[28:], 3)
	binary.BigEndian.PutUint32(b[30:], 48000)
	b[34] = 2
	return b
}

func TestParseFields(t *testing.T) {
	b := append(rawHeader(), 'D', 'E', 'F')

	h, ok := Parse(b)
	require.True(t, ok)
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, byte(1), h.Version)
	assert.Equal(t, Audio, h.MediaType)
	assert.Equal(t, byte(7), h.SourceID)
	assert.True(t, h.IsKeyFrame())
	assert.Equal(t, uint32(42), h.SequenceNumber)
	assert.Equal(t, uint64(123456789), h.Timestamp)
	assert.Equal(t, uint32(6), h.TotalSize)
	assert.Equal(t, uint16(1), h.FragmentIndex)
	assert.Equal(t, uint16(2), h.FragmentCount)
	assert.Equal(t, uint16(3), h.PayloadSize)
	assert.Equal(t, uint32(48000), h.SampleRate)
	assert.Equal(t, uint8(2), h.Channels)
	assert.Equal(t, []byte("DEF"), h.Payload(b))
}

func TestParseShort(t *testing.T) {
	b := rawHeader()
	for n := 0; n < HeaderSize; n++ {
		_, ok := Parse(b[:n])
		assert.False(t, ok, "length %d", n)
	}
}

func TestParseBadMagic(t *testing.T) {
	for _, magic := range []uint32{0, 0x4E444943, 0x42494E44, 0xFFFFFFFF} {
		b := rawHeader()
		binary.BigEndian.PutUint32(b, magic)
		_, ok := Parse(b)
		assert.False(t, ok, "magic %08x", magic)
	}
}

func TestPayloadTruncated(t *testing.T) {
	b := append(rawHeader(), 'D')
	h, ok := Parse(b)
	require.True(t, ok)
	assert.Equal(t, []byte("D"), h.Payload(b))
	assert.Empty(t, h.Payload(b[:HeaderSize]))
}

func TestMarshalParse(t *testing.T) {
	d, err := Marshal(Header{
		MediaType:      Video,
		SequenceNumber: 9,
		FragmentCount:  1,
		Flags:          FlagKeyFrame,
	}, []byte("xyz"))
	require.NoError(t, err)
	assert.Len(t, d, HeaderSize+3)

	h, ok := Parse(d)
	require.True(t, ok)
	assert.Equal(t, uint16(3), h.PayloadSize)
	assert.Equal(t, uint32(9), h.SequenceNumber)
	assert.True(t, h.IsKeyFrame())
	assert.Equal(t, []byte("xyz"), h.Payload(d))
}

func TestFragmenter(t *testing.T) {
	f := NewFragmenter(3, 4)
	data := []byte("0123456789")

	datagrams, err := f.Fragment(Video, data, Meta{KeyFrame: true, Timestamp: 5})
	require.NoError(t, err)
	require.Len(t, datagrams, 3)

	var joined []byte
	for i, d := range datagrams {
		h, ok := Parse(d)
		require.True(t, ok)
		assert.Equal(t, uint32(0), h.SequenceNumber)
		assert.Equal(t, uint16(i), h.FragmentIndex)
		assert.Equal(t, uint16(3), h.FragmentCount)
		assert.Equal(t, uint32(len(data)), h.TotalSize)
		assert.Equal(t, byte(3), h.SourceID)
		assert.True(t, h.IsKeyFrame())
		joined = append(joined, h.Payload(d)...)
	}
	assert.Equal(t, data, joined)

	// Sequence numbers advance per media type
	datagrams, err = f.Fragment(Video, data, Meta{})
	require.NoError(t, err)
	h, _ := Parse(datagrams[0])
	assert.Equal(t, uint32(1), h.SequenceNumber)

	datagrams, err = f.Fragment(Audio, []byte{1, 2}, Meta{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	h, _ = Parse(datagrams[0])
	assert.Equal(t, uint32(0), h.SequenceNumber)
	assert.Equal(t, uint8(2), h.Channels)
}

func TestFragmenterErrors(t *testing.T) {
	f := NewFragmenter(0, 0)
	assert.Equal(t, DefaultMaxPayload, f.MaxPayload)

	_, err := f.Fragment(Video, nil, Meta{})
	assert.Error(t, err)
	_, err = f.Fragment(MediaType(5), []byte{1}, Meta{})
	assert.Error(t, err)
}
