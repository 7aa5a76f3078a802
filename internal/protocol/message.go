package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message is a classified WireGuard datagram. Which index fields are
// meaningful depends on Type:
//
//	HandshakeInitiation: Sender
//	HandshakeResponse:   Sender, Receiver
//	CookieReply:         Receiver
//	TransportData:       Receiver
type Message struct {
	Type     MessageType
	Sender   uint32
	Receiver uint32
}

// Classify parses the header of a raw datagram. It never fails loudly:
// ok is false for datagrams that are too short or carry an unknown type,
// and callers are expected to drop those silently.
func Classify(buf []byte) (msg Message, ok bool) {
	// Smallest message worth looking at is a cookie reply header
	if len(buf) < MinMessageSize {
		return Message{}, false
	}

	first := binary.LittleEndian.Uint32(buf[FirstIndexOffset:])

	switch MessageType(buf[0]) {
	case TypeHandshakeInitiation:
		return Message{Type: TypeHandshakeInitiation, Sender: first}, true
	case TypeHandshakeResponse:
		if len(buf) < MinResponseSize {
			return Message{}, false
		}
		return Message{
			Type:     TypeHandshakeResponse,
			Sender:   first,
			Receiver: binary.LittleEndian.Uint32(buf[SecondIndexOffset:]),
		}, true
	case TypeCookieReply:
		return Message{Type: TypeCookieReply, Receiver: first}, true
	case TypeTransportData:
		return Message{Type: TypeTransportData, Receiver: first}, true
	default:
		return Message{}, false
	}
}

// ReceiverIndex returns the receiver index, or false for a handshake
// initiation which has none.
func (m Message) ReceiverIndex() (uint32, bool) {
	if !m.Type.HasReceiver() {
		return 0, false
	}
	return m.Receiver, true
}

// Encode writes a minimal header for m. The result is the shortest
// datagram Classify accepts for the type; reserved bytes are zero.
func (m Message) Encode() []byte {
	size := MinMessageSize
	if m.Type == TypeHandshakeResponse {
		size = MinResponseSize
	}

	buf := make([]byte, size)
	buf[0] = byte(m.Type)

	switch m.Type {
	case TypeHandshakeInitiation:
		binary.LittleEndian.PutUint32(buf[FirstIndexOffset:], m.Sender)
	case TypeHandshakeResponse:
		binary.LittleEndian.PutUint32(buf[FirstIndexOffset:], m.Sender)
		binary.LittleEndian.PutUint32(buf[SecondIndexOffset:], m.Receiver)
	default:
		binary.LittleEndian.PutUint32(buf[FirstIndexOffset:], m.Receiver)
	}

	return buf
}

// String returns a human-readable representation of the message.
func (m Message) String() string {
	switch m.Type {
	case TypeHandshakeInitiation:
		return fmt.Sprintf("Message{type=%s, sender=%d}", m.Type, m.Sender)
	case TypeHandshakeResponse:
		return fmt.Sprintf("Message{type=%s, sender=%d, receiver=%d}", m.Type, m.Sender, m.Receiver)
	default:
		return fmt.Sprintf("Message{type=%s, receiver=%d}", m.Type, m.Receiver)
	}
}
