package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Parse maps the first HeaderSize bytes of a datagram on a Header.
// It reports false for short datagrams and for anything not starting with Magic.
func Parse(b []byte) (*Header, bool) {
	if len(b) < HeaderSize {
		return nil, false
	}
	var h Header
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.BigEndian, &h); err != nil {
		return nil, false
	}
	if h.Magic != Magic {
		return nil, false
	}
	return &h, true
}

// Payload returns the payload part of the datagram b the header was parsed from.
// A datagram shorter than PayloadSize claims yields whatever is there.
func (h Header) Payload(b []byte) []byte {
	end := HeaderSize + int(h.PayloadSize)
	if end > len(b) {
		end = len(b)
	}
	if end < HeaderSize {
		return nil
	}
	return b[HeaderSize:end]
}

func (h Header) GetInfoString() string {
	return fmt.Sprintf("Media: %v; SequenceNumber: %d; Fragment: %d/%d; PayloadSize: %d", h.MediaType, h.SequenceNumber, h.FragmentIndex, h.FragmentCount, h.PayloadSize)
}

// Marshal builds a datagram. Magic and PayloadSize are filled in from the arguments.
func Marshal(h Header, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	h.Magic = Magic
	h.PayloadSize = uint16(len(payload))
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}
