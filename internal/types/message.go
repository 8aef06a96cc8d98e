package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Wire prefixes. Every protocol message starts with a 4-byte type
// discriminant; the values are fixed by existing deployments.
var (
	// TransferPrefix opens a NativeTokenTransfer payload ("\x99NTT").
	TransferPrefix = [4]byte{0x99, 0x4E, 0x54, 0x54}
	// EnvelopePrefix opens a TransceiverEnvelope.
	EnvelopePrefix = [4]byte{0x99, 0x45, 0xFF, 0x10}
	// InitPrefix opens a TransceiverInit broadcast.
	InitPrefix = [4]byte{0x9C, 0x23, 0xBD, 0x3B}
	// RegistrationPrefix opens a TransceiverRegistration broadcast.
	RegistrationPrefix = [4]byte{0x18, 0xFC, 0x67, 0xC2}
)

// Digest is the 32-byte content digest an inbox entry is keyed by.
type Digest [32]byte

// DigestFromHex decodes a 64-character hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest hex:\n%w", err)
	}
	if len(b) != 32 {
		return d, fmt.Errorf("invalid digest length: %d bytes", len(b))
	}
	copy(d[:], b)

	return d, nil
}

// Hex returns the full 64-character hex encoding.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns an abbreviated hex form for logging.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:8])
}

// NativeTokenTransfer is the token payload carried inside a manager
// message: the trimmed amount, the token it came from, and where it is
// going. An optional extension payload rides along untouched.
type NativeTokenTransfer struct {
	Amount         TrimmedAmount    // Amount is the trimmed transfer amount
	SourceToken    UniversalAddress // SourceToken is the token address on the source chain
	Recipient      UniversalAddress // Recipient is the destination account
	RecipientChain ChainID          // RecipientChain is the destination chain
	Extension      []byte           // Extension is the optional extension payload
}

// nativeTokenTransferSize is the fixed encoded size without extension.
const nativeTokenTransferSize = 4 + 1 + 8 + 32 + 32 + 2

// Encode serializes the transfer payload in wire order.
func (m *NativeTokenTransfer) Encode() []byte {
	buf := make([]byte, 0, nativeTokenTransferSize+2+len(m.Extension))
	buf = append(buf, TransferPrefix[:]...)
	buf = append(buf, m.Amount.Decimals)
	buf = binary.BigEndian.AppendUint64(buf, m.Amount.Amount)
	buf = append(buf, m.SourceToken[:]...)
	buf = append(buf, m.Recipient[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.RecipientChain))

	// The extension rides behind a u16 length, written only when present.
	if len(m.Extension) > 0 {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Extension)))
		buf = append(buf, m.Extension...)
	}

	return buf
}

// DecodeNativeTokenTransfer parses a transfer payload, rejecting wrong
// prefixes, truncation, and trailing bytes.
func DecodeNativeTokenTransfer(data []byte) (NativeTokenTransfer, error) {
	var m NativeTokenTransfer

	if len(data) < nativeTokenTransferSize {
		return m, fmt.Errorf("transfer payload too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], TransferPrefix[:]) {
		return m, fmt.Errorf("transfer payload has wrong prefix: %x", data[:4])
	}

	m.Amount.Decimals = data[4]
	m.Amount.Amount = binary.BigEndian.Uint64(data[5:13])
	copy(m.SourceToken[:], data[13:45])
	copy(m.Recipient[:], data[45:77])
	m.RecipientChain = ChainID(binary.BigEndian.Uint16(data[77:79]))

	rest := data[nativeTokenTransferSize:]
	if len(rest) == 0 {
		return m, nil
	}
	if len(rest) < 2 {
		return m, fmt.Errorf("transfer extension truncated: %d bytes", len(rest))
	}

	extLen := int(binary.BigEndian.Uint16(rest[:2]))
	if len(rest) != 2+extLen {
		return m, fmt.Errorf("transfer extension length mismatch: have %d bytes, header says %d", len(rest)-2, extLen)
	}
	m.Extension = make([]byte, extLen)
	copy(m.Extension, rest[2:])

	return m, nil
}

// ManagerMessage is what one manager sends to another: a
// source-assigned id, the original sender, and an opaque payload
// (normally an encoded NativeTokenTransfer).
type ManagerMessage struct {
	ID      [32]byte         // ID is assigned by the source manager, unique per message
	Sender  UniversalAddress // Sender is the account that initiated the transfer
	Payload []byte           // Payload is the opaque message body
}

// managerMessageHeaderSize is the encoded size before the payload.
const managerMessageHeaderSize = 32 + 32 + 2

// Encode serializes the manager message in wire order.
func (m *ManagerMessage) Encode() []byte {
	buf := make([]byte, 0, managerMessageHeaderSize+len(m.Payload))
	buf = append(buf, m.ID[:]...)
	buf = append(buf, m.Sender[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Payload)))
	buf = append(buf, m.Payload...)

	return buf
}

// DecodeManagerMessage parses a manager message, rejecting truncation
// and trailing bytes.
func DecodeManagerMessage(data []byte) (ManagerMessage, error) {
	var m ManagerMessage

	if len(data) < managerMessageHeaderSize {
		return m, fmt.Errorf("manager message too short: %d bytes", len(data))
	}

	copy(m.ID[:], data[:32])
	copy(m.Sender[:], data[32:64])

	payloadLen := int(binary.BigEndian.Uint16(data[64:66]))
	if len(data) != managerMessageHeaderSize+payloadLen {
		return m, fmt.Errorf("manager message length mismatch: have %d payload bytes, header says %d", len(data)-managerMessageHeaderSize, payloadLen)
	}
	m.Payload = make([]byte, payloadLen)
	copy(m.Payload, data[66:])

	return m, nil
}

// Digest hashes the message content together with its source chain.
// The digest keys the inbox: any byte that differs yields a different
// entry, so votes can never mix across distinct contents.
func (m *ManagerMessage) Digest(sourceChain ChainID) Digest {
	h := blake3.New()

	var chain [2]byte
	binary.BigEndian.PutUint16(chain[:], uint16(sourceChain))
	h.Write(chain[:])
	h.Write(m.Encode())

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}

// MessageID derives the deterministic id for an outbound message from
// the emitting chain, its manager, and the assigned sequence.
func MessageID(chain ChainID, manager UniversalAddress, sequence uint64) [32]byte {
	buf := make([]byte, 0, 2+32+8)
	buf = binary.BigEndian.AppendUint16(buf, uint16(chain))
	buf = append(buf, manager[:]...)
	buf = binary.BigEndian.AppendUint64(buf, sequence)

	return blake3.Sum256(buf)
}

// TransceiverEnvelope frames a manager message for transport: which
// manager sent it, which manager should consume it, and an optional
// transceiver-private payload.
type TransceiverEnvelope struct {
	SourceManager      UniversalAddress // SourceManager is the emitting manager
	RecipientManager   UniversalAddress // RecipientManager is the intended consumer
	Message            ManagerMessage   // Message is the framed manager message
	TransceiverPayload []byte           // TransceiverPayload is transport-private data
}

// Encode serializes the envelope in wire order.
func (e *TransceiverEnvelope) Encode() []byte {
	msg := e.Message.Encode()

	buf := make([]byte, 0, 4+32+32+2+len(msg)+2+len(e.TransceiverPayload))
	buf = append(buf, EnvelopePrefix[:]...)
	buf = append(buf, e.SourceManager[:]...)
	buf = append(buf, e.RecipientManager[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg)))
	buf = append(buf, msg...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.TransceiverPayload)))
	buf = append(buf, e.TransceiverPayload...)

	return buf
}

// DecodeTransceiverEnvelope parses an envelope and its nested manager
// message, rejecting wrong prefixes, truncation, and trailing bytes.
func DecodeTransceiverEnvelope(data []byte) (TransceiverEnvelope, error) {
	var e TransceiverEnvelope

	if len(data) < 4+32+32+2 {
		return e, fmt.Errorf("envelope too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], EnvelopePrefix[:]) {
		return e, fmt.Errorf("envelope has wrong prefix: %x", data[:4])
	}

	copy(e.SourceManager[:], data[4:36])
	copy(e.RecipientManager[:], data[36:68])

	msgLen := int(binary.BigEndian.Uint16(data[68:70]))
	offset := 70
	if len(data) < offset+msgLen+2 {
		return e, fmt.Errorf("envelope message truncated: %d bytes", len(data))
	}

	msg, err := DecodeManagerMessage(data[offset : offset+msgLen])
	if err != nil {
		return e, fmt.Errorf("decode envelope message:\n%w", err)
	}
	e.Message = msg
	offset += msgLen

	tpLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) != offset+tpLen {
		return e, fmt.Errorf("envelope length mismatch: have %d transceiver bytes, header says %d", len(data)-offset, tpLen)
	}
	e.TransceiverPayload = make([]byte, tpLen)
	copy(e.TransceiverPayload, data[offset:])

	return e, nil
}

// TransceiverInit announces a manager's identity on its attestation
// channel: address, custody mode, and the token it manages.
type TransceiverInit struct {
	Manager       UniversalAddress // Manager is the broadcasting manager
	Mode          Mode             // Mode is the manager's custody mode
	Token         UniversalAddress // Token is the managed token address
	TokenDecimals uint8            // TokenDecimals is the token's local precision
}

// transceiverInitSize is the exact encoded size.
const transceiverInitSize = 4 + 32 + 1 + 32 + 1

// Encode serializes the init broadcast in wire order.
func (m *TransceiverInit) Encode() []byte {
	buf := make([]byte, 0, transceiverInitSize)
	buf = append(buf, InitPrefix[:]...)
	buf = append(buf, m.Manager[:]...)
	buf = append(buf, uint8(m.Mode))
	buf = append(buf, m.Token[:]...)
	buf = append(buf, m.TokenDecimals)

	return buf
}

// DecodeTransceiverInit parses an init broadcast.
func DecodeTransceiverInit(data []byte) (TransceiverInit, error) {
	var m TransceiverInit

	if len(data) != transceiverInitSize {
		return m, fmt.Errorf("init broadcast wrong size: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], InitPrefix[:]) {
		return m, fmt.Errorf("init broadcast has wrong prefix: %x", data[:4])
	}

	copy(m.Manager[:], data[4:36])
	m.Mode = Mode(data[36])
	copy(m.Token[:], data[37:69])
	m.TokenDecimals = data[69]

	return m, nil
}

// TransceiverRegistration announces a transceiver peer binding: which
// address speaks for this transceiver on a given chain.
type TransceiverRegistration struct {
	Chain       ChainID          // Chain is the remote chain
	Transceiver UniversalAddress // Transceiver is the peer's address there
}

// transceiverRegistrationSize is the exact encoded size.
const transceiverRegistrationSize = 4 + 2 + 32

// Encode serializes the registration broadcast in wire order.
func (m *TransceiverRegistration) Encode() []byte {
	buf := make([]byte, 0, transceiverRegistrationSize)
	buf = append(buf, RegistrationPrefix[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.Chain))
	buf = append(buf, m.Transceiver[:]...)

	return buf
}

// DecodeTransceiverRegistration parses a registration broadcast.
func DecodeTransceiverRegistration(data []byte) (TransceiverRegistration, error) {
	var m TransceiverRegistration

	if len(data) != transceiverRegistrationSize {
		return m, fmt.Errorf("registration broadcast wrong size: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], RegistrationPrefix[:]) {
		return m, fmt.Errorf("registration broadcast has wrong prefix: %x", data[:4])
	}

	m.Chain = ChainID(binary.BigEndian.Uint16(data[4:6]))
	copy(m.Transceiver[:], data[6:38])

	return m, nil
}

// VerifiedAttestation is the resolved form of an attestation envelope.
// An external verifier produces it; the manager only consumes it.
type VerifiedAttestation struct {
	EmitterChain   ChainID          // EmitterChain is where the attestation originated
	EmitterAddress UniversalAddress // EmitterAddress is the emitting transceiver peer
	Sequence       uint64           // Sequence is the emitter's sequence number
	Payload        []byte           // Payload is the attested message bytes
}
