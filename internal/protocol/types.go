// Package protocol classifies WireGuard datagrams by their cleartext header.
//
// Only the message type byte and the sender/receiver indices are read. The
// rest of the datagram (reserved bytes, ephemeral keys, MACs, ciphertext) is
// never inspected, so the relay stays oblivious to the Noise handshake.
package protocol

// MessageType is the WireGuard message type carried in byte 0.
type MessageType uint8

// Message type constants
const (
	TypeHandshakeInitiation MessageType = 0x01 // Initiator -> responder
	TypeHandshakeResponse   MessageType = 0x02 // Responder -> initiator
	TypeCookieReply         MessageType = 0x03 // Under-load cookie
	TypeTransportData       MessageType = 0x04 // Encrypted payload
)

// Header layout (little-endian u32 indices).
const (
	// MinMessageSize is the shortest datagram worth classifying.
	MinMessageSize = 10

	// MinResponseSize is the shortest handshake response that carries both indices.
	MinResponseSize = 12

	// FirstIndexOffset is where the sender (initiation, response) or
	// receiver (cookie, data) index starts.
	FirstIndexOffset = 4

	// SecondIndexOffset is where a handshake response carries its receiver index.
	SecondIndexOffset = 8
)

// String returns a human-readable name for the message type.
// The names double as metric label values.
func (t MessageType) String() string {
	switch t {
	case TypeHandshakeInitiation:
		return "handshake_initiation"
	case TypeHandshakeResponse:
		return "handshake_response"
	case TypeCookieReply:
		return "cookie"
	case TypeTransportData:
		return "data"
	default:
		return "unknown"
	}
}

// HasReceiver reports whether messages of this type name a receiver index.
func (t MessageType) HasReceiver() bool {
	switch t {
	case TypeHandshakeResponse, TypeCookieReply, TypeTransportData:
		return true
	default:
		return false
	}
}
