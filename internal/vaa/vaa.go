// Package vaa implements the attestation envelope carried over
// transceiver channels. The body layout is fixed by existing
// deployments: timestamp, nonce, emitter chain, emitter address,
// sequence, consistency level, then the attested payload, all
// big-endian. Around the body sits a one-byte version header; version
// 1 adds an ed25519 signature from an off-chain attestor, version 0 is
// a bare body for channels that carry their own authentication.
package vaa

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"ntt/internal/types"
)

// Envelope version bytes.
const (
	// versionUnsigned marks a bare body. Accepted only when the
	// verifier is built with unsigned bodies allowed.
	versionUnsigned = 0x00
	// versionSigned marks an ed25519-signed body.
	versionSigned = 0x01
)

// bodyHeaderSize is the encoded body size before the payload.
const bodyHeaderSize = 4 + 4 + 2 + 32 + 8 + 1

// Body is the attestation body: where the message was emitted, its
// per-emitter sequence, and the attested payload bytes.
type Body struct {
	Timestamp        uint32                 // Timestamp is when the emission was observed (unix seconds)
	Nonce            uint32                 // Nonce disambiguates emissions within one second
	EmitterChain     types.ChainID          // EmitterChain is where the attestation originated
	EmitterAddress   types.UniversalAddress // EmitterAddress is the emitting transceiver peer
	Sequence         uint64                 // Sequence is the emitter's sequence number
	ConsistencyLevel uint8                  // ConsistencyLevel is the source-chain finality the attestor waited for
	Payload          []byte                 // Payload is the attested message bytes
}

// Encode serializes the body in wire order.
func (b *Body) Encode() []byte {
	buf := make([]byte, 0, bodyHeaderSize+len(b.Payload))
	buf = binary.BigEndian.AppendUint32(buf, b.Timestamp)
	buf = binary.BigEndian.AppendUint32(buf, b.Nonce)
	buf = binary.BigEndian.AppendUint16(buf, uint16(b.EmitterChain))
	buf = append(buf, b.EmitterAddress[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.Sequence)
	buf = append(buf, b.ConsistencyLevel)
	buf = append(buf, b.Payload...)

	return buf
}

// DecodeBody parses an attestation body. The payload is everything
// after the fixed header, so an empty payload is valid.
func DecodeBody(data []byte) (Body, error) {
	var b Body

	if len(data) < bodyHeaderSize {
		return b, fmt.Errorf("attestation body too short: %d bytes", len(data))
	}

	b.Timestamp = binary.BigEndian.Uint32(data[0:4])
	b.Nonce = binary.BigEndian.Uint32(data[4:8])
	b.EmitterChain = types.ChainID(binary.BigEndian.Uint16(data[8:10]))
	copy(b.EmitterAddress[:], data[10:42])
	b.Sequence = binary.BigEndian.Uint64(data[42:50])
	b.ConsistencyLevel = data[50]
	b.Payload = make([]byte, len(data)-bodyHeaderSize)
	copy(b.Payload, data[bodyHeaderSize:])

	return b, nil
}

// signingDigest is what attestors sign: the blake3 digest of the
// encoded body.
func signingDigest(body []byte) [32]byte {
	return blake3.Sum256(body)
}

// Sign wraps the body in a version-1 envelope signed with the given
// attestor key.
func Sign(body *Body, key ed25519.PrivateKey) []byte {
	encoded := body.Encode()
	digest := signingDigest(encoded)

	buf := make([]byte, 0, 1+ed25519.SignatureSize+len(encoded))
	buf = append(buf, versionSigned)
	buf = append(buf, ed25519.Sign(key, digest[:])...)
	buf = append(buf, encoded...)

	return buf
}

// Unsigned wraps the body in a version-0 envelope with no signature.
func Unsigned(body *Body) []byte {
	encoded := body.Encode()

	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, versionUnsigned)
	buf = append(buf, encoded...)

	return buf
}

// Verifier authenticates attestation envelopes against a set of
// trusted attestor keys. A signed envelope is accepted when any
// trusted key verifies it; which transceiver peer may speak for which
// chain is the manager's check, not the verifier's.
type Verifier struct {
	keys          []ed25519.PublicKey // keys are the trusted attestor public keys
	allowUnsigned bool                // allowUnsigned admits version-0 envelopes
}

// NewVerifier creates a verifier trusting the given attestor keys.
// With allowUnsigned set, bare version-0 bodies pass without a
// signature; that mode is for development and tests only.
func NewVerifier(keys []ed25519.PublicKey, allowUnsigned bool) *Verifier {
	return &Verifier{
		keys:          keys,
		allowUnsigned: allowUnsigned,
	}
}

// Verify authenticates a raw envelope and extracts the attestation.
func (v *Verifier) Verify(raw []byte) (types.VerifiedAttestation, error) {
	var att types.VerifiedAttestation

	if len(raw) == 0 {
		return att, fmt.Errorf("empty attestation")
	}

	var encoded []byte

	switch raw[0] {
	case versionUnsigned:
		if !v.allowUnsigned {
			return att, fmt.Errorf("unsigned attestation rejected")
		}
		encoded = raw[1:]

	case versionSigned:
		if len(raw) < 1+ed25519.SignatureSize {
			return att, fmt.Errorf("signed attestation too short: %d bytes", len(raw))
		}

		sig := raw[1 : 1+ed25519.SignatureSize]
		encoded = raw[1+ed25519.SignatureSize:]
		digest := signingDigest(encoded)

		trusted := false
		for _, key := range v.keys {
			if ed25519.Verify(key, digest[:], sig) {
				trusted = true
				break
			}
		}
		if !trusted {
			return att, fmt.Errorf("signature does not match any trusted attestor key")
		}

	default:
		return att, fmt.Errorf("unsupported attestation version: %d", raw[0])
	}

	body, err := DecodeBody(encoded)
	if err != nil {
		return att, fmt.Errorf("decode attestation body:\n%w", err)
	}

	att.EmitterChain = body.EmitterChain
	att.EmitterAddress = body.EmitterAddress
	att.Sequence = body.Sequence
	att.Payload = body.Payload

	return att, nil
}

// ParseKey decodes a hex-encoded ed25519 public key.
func ParseKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode attestor key hex:\n%w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid attestor key size: %d bytes", len(b))
	}

	return ed25519.PublicKey(b), nil
}
