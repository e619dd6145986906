package coap

import (
	"crypto/rand"
	"encoding/binary"
)

// MessageIDs allocates 16-bit message IDs. It never returns 0.
type MessageIDs struct {
	last uint16
}

// NewMessageIDs starts the counter after seed.
func NewMessageIDs(seed uint16) *MessageIDs {
	return &MessageIDs{last: seed}
}

// NewRandomMessageIDs seeds the counter from crypto/rand so IDs do not
// repeat across reboots.
func NewRandomMessageIDs() *MessageIDs {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return NewMessageIDs(1)
	}
	return NewMessageIDs(binary.BigEndian.Uint16(b[:]))
}

// Next returns the next ID, wrapping 0xFFFF to 1.
func (g *MessageIDs) Next() uint16 {
	g.last++
	if g.last == 0 {
		g.last = 1
	}
	return g.last
}
