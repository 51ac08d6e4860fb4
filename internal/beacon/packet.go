package beacon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// PacketVersion is the envelope version written by Seal.
	PacketVersion uint8 = 1
	// MaxPacketSize is the largest packet a listener will read.
	MaxPacketSize = 4096
)

var (
	ErrPacketTooSmall = errors.New("packet too small")
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")
	ErrBadSignature   = errors.New("HMAC mismatch")
)

// Envelope is the msgpack frame carried in a UDP packet after the HMAC.
// Body holds the JSON-encoded beacon.
type Envelope struct {
	Version   uint8  `msgpack:"version"`
	Timestamp int64  `msgpack:"timestamp"`
	AgentID   string `msgpack:"agent_id"`
	Body      []byte `msgpack:"body"`
}

// Seal encodes b into a signed packet: HMAC-SHA256 over the msgpack
// envelope, followed by the envelope itself.
func Seal(b *Beacon, agentID, secret string, now time.Time) ([]byte, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshaling beacon: %w", err)
	}

	env := &Envelope{
		Version:   PacketVersion,
		Timestamp: now.Unix(),
		AgentID:   agentID,
		Body:      body,
	}
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	packet := append(ComputeHMAC(data, secret), data...)
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(packet))
	}
	return packet, nil
}

// Open verifies and decodes a packet produced by Seal.
func Open(packet []byte, secret string) (*Envelope, *Beacon, error) {
	// 32 bytes HMAC + at least 1 byte payload
	if len(packet) <= HMACSize {
		return nil, nil, ErrPacketTooSmall
	}

	sig := packet[:HMACSize]
	data := packet[HMACSize:]
	if !VerifyHMAC(sig, data, secret) {
		return nil, nil, ErrBadSignature
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	b := New()
	if err := json.Unmarshal(env.Body, b); err != nil {
		return &env, nil, fmt.Errorf("unmarshaling beacon: %w", err)
	}
	return &env, b, nil
}

// HMACSize is the length of the packet signature in bytes.
const HMACSize = sha256.Size

// ComputeHMAC signs data with the shared secret using HMAC-SHA256.
func ComputeHMAC(data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether sig is the signature of data, in constant time.
func VerifyHMAC(sig, data []byte, secret string) bool {
	return hmac.Equal(sig, ComputeHMAC(data, secret))
}
