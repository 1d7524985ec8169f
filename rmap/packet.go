package rmap

import (
	"errors"

	"spacewire-comms/wire"
)

// ErrBufferTooSmall is returned by Encode when the transmit buffer cannot
// hold the header, payload and trailing data CRC.
var ErrBufferTooSmall = errors.New("rmap: buffer too small")

// ExtractionResult is the outcome of decoding a received buffer into a
// ReplyPacket, mirroring RmapPacket::ExtractionResult from the original
// design.
type ExtractionResult int

const (
	ExtractionSuccess ExtractionResult = iota
	ExtractionCrcError
	ExtractionInvalid
	ExtractionIncorrectAddress
)

func (r ExtractionResult) String() string {
	switch r {
	case ExtractionSuccess:
		return "success"
	case ExtractionCrcError:
		return "crcError"
	case ExtractionInvalid:
		return "invalid"
	case ExtractionIncorrectAddress:
		return "incorrectAddress"
	default:
		return "unknown"
	}
}

// Command is the set of fields needed to build an RMAP command packet
// (write or read).
type Command struct {
	Target      TargetNode
	Options     Options
	InitiatorLA byte
	TransID     uint16
	ExtAddr     byte
	MemAddr     uint32
	// Data is the write payload. For a read command, Data must be empty and
	// DataLength carries the number of bytes requested.
	Data       []byte
	DataLength uint32
}

func padReplyAddress(addr []byte) []byte {
	units := (len(addr) + 3) / 4
	if units == 0 {
		return nil
	}
	total := units * 4
	out := make([]byte, total)
	copy(out[total-len(addr):], addr)
	return out
}

// Encode writes a command packet into buf (a transmit buffer requested from
// the SpaceWire driver) and returns the number of bytes written. isWrite
// selects write-command framing (payload + data CRC) versus read-command
// framing (header only). Path-address bytes precede the RMAP header proper
// and are not covered by the header CRC.
func Encode(buf []byte, cmd Command, isWrite bool) (int, error) {
	path := cmd.Target.TargetSpWAddress
	replyAddr := padReplyAddress(cmd.Target.ReplyAddress)
	replyUnits := byte(len(replyAddr) / 4)

	headerLen := len(path) + 1 + 1 + 1 + 1 + len(replyAddr) + 1 + 2 + 1 + 4 + 3 + 1
	payloadLen := 0
	if isWrite {
		payloadLen = len(cmd.Data) + 1 // +1 trailing data CRC
	}
	total := headerLen + payloadLen
	if total > len(buf) {
		return 0, ErrBufferTooSmall
	}

	instr := byte(packetTypeCommand) << instrPacketTypeShift
	if isWrite {
		instr |= instrOperationBit
	}
	if cmd.Options.Verify {
		instr |= instrVerifyBit
	}
	if cmd.Options.Reply {
		instr |= instrReplyBit
	}
	if cmd.Options.Increment {
		instr |= instrIncrementBit
	}
	instr |= replyUnits & instrReplyAddrLenMask

	n := 0
	n += copy(buf[n:], path)

	crcStart := n
	buf[n] = cmd.Target.TargetLogicalAddr
	n++
	buf[n] = ProtocolIdentifier
	n++
	buf[n] = instr
	n++
	buf[n] = cmd.Target.Key
	n++
	n += copy(buf[n:], replyAddr)
	buf[n] = cmd.InitiatorLA
	n++
	if err := wire.StoreU16(buf[n:n+2], cmd.TransID); err != nil {
		return 0, err
	}
	n += 2
	buf[n] = cmd.ExtAddr
	n++
	if err := wire.StoreU32(buf[n:n+4], cmd.MemAddr); err != nil {
		return 0, err
	}
	n += 4
	dataLen := cmd.DataLength
	if isWrite {
		dataLen = uint32(len(cmd.Data))
	}
	if err := wire.StoreU24(buf[n:n+3], dataLen); err != nil {
		return 0, err
	}
	n += 3

	hdrCRC := wire.Crc8Reversed(buf[crcStart:n])
	buf[n] = hdrCRC
	n++

	if isWrite {
		n += copy(buf[n:], cmd.Data)
		dataCRC := wire.Crc8Reversed(cmd.Data)
		buf[n] = dataCRC
		n++
	}

	return n, nil
}

// Reply is the parsed form of a received RMAP reply packet.
type Reply struct {
	IsWrite      bool
	Instruction  byte
	Status       ReplyStatus
	TargetLA     byte
	InitiatorLA  byte
	TransID      uint16
	DataLength   uint32
	Data         []byte // view into the decoded buffer; valid only while the caller holds it
	HeaderCRC    byte
	DataCRC      byte
}

// Decode parses buf as an RMAP reply addressed to expectedInitiatorLA,
// skipping leading SpaceWire path-address bytes (values < 32) until the
// initiator logical address byte is found.
func Decode(buf []byte, expectedInitiatorLA byte) (Reply, ExtractionResult) {
	i := 0
	for i < len(buf) && i < MaxPhysicalRouterOutputPorts && buf[i] < 32 {
		i++
	}
	if i >= len(buf) {
		return Reply{}, ExtractionInvalid
	}

	rest := buf[i:]
	if len(rest) < minReplySize {
		return Reply{}, ExtractionInvalid
	}

	if rest[0] != expectedInitiatorLA {
		return Reply{}, ExtractionIncorrectAddress
	}
	if rest[1] != ProtocolIdentifier {
		return Reply{}, ExtractionInvalid
	}

	instr := rest[2]
	packetType := (instr >> instrPacketTypeShift) & instrPacketTypeMask
	if packetType != packetTypeReply {
		return Reply{}, ExtractionInvalid
	}
	isWrite := instr&instrOperationBit != 0

	status := ReplyStatus(rest[3])
	targetLA := rest[4]
	tid, _ := wire.LoadU16(rest[5:7])

	crcStart := 0 // relative to rest

	if isWrite {
		if len(rest) < WriteReplyOverhead {
			return Reply{}, ExtractionInvalid
		}
		hdrCRC := rest[7]
		computed := wire.Crc8Reversed(rest[crcStart : WriteReplyOverhead-1])
		if hdrCRC != computed {
			return Reply{}, ExtractionCrcError
		}
		return Reply{
			IsWrite:     true,
			Instruction: instr,
			Status:      status,
			TargetLA:    targetLA,
			InitiatorLA: rest[0],
			TransID:     tid,
			HeaderCRC:   hdrCRC,
		}, ExtractionSuccess
	}

	if len(rest) < ReadReplyOverhead {
		return Reply{}, ExtractionInvalid
	}
	// byte 7 is reserved (0x00), bytes 8..10 are the 24-bit data length.
	dataLen, _ := wire.LoadU24(rest[8:11])
	hdrCRC := rest[11]
	computed := wire.Crc8Reversed(rest[crcStart:11])
	if hdrCRC != computed {
		return Reply{}, ExtractionCrcError
	}

	if uint32(len(rest)) != ReadReplyOverhead+dataLen {
		return Reply{}, ExtractionInvalid
	}

	data := rest[ReadReplyOverhead-1 : ReadReplyOverhead-1+int(dataLen)]
	dataCRC := rest[len(rest)-1]
	computedDataCRC := wire.Crc8Reversed(data)
	if dataCRC != computedDataCRC {
		return Reply{}, ExtractionCrcError
	}

	return Reply{
		IsWrite:     false,
		Instruction: instr,
		Status:      status,
		TargetLA:    targetLA,
		InitiatorLA: rest[0],
		TransID:     tid,
		DataLength:  dataLen,
		Data:        data,
		HeaderCRC:   hdrCRC,
		DataCRC:     dataCRC,
	}, ExtractionSuccess
}

// ReplyInstruction builds the instruction byte for a reply packet.
func ReplyInstruction(isWrite bool) byte {
	instr := byte(packetTypeReply) << instrPacketTypeShift
	if isWrite {
		instr |= instrOperationBit
	}
	return instr
}

// ReplyFields describes a reply packet a target node would produce in
// response to a command. It is used by cmd/demo's simulated target and by
// tests that need to simulate a target's response.
type ReplyFields struct {
	ReplyPath   []byte
	InitiatorLA byte
	IsWrite     bool
	Instruction byte
	Status      ReplyStatus
	TargetLA    byte
	TransID     uint16
	Data        []byte
}

// EncodeReply writes a reply packet into buf and returns the number of
// bytes written.
func EncodeReply(buf []byte, f ReplyFields) (int, error) {
	headerLen := len(f.ReplyPath) + 1 + 1 + 1 + 1 + 1 + 2
	if f.IsWrite {
		if headerLen+1 > len(buf) {
			return 0, ErrBufferTooSmall
		}
	} else {
		if headerLen+1+3+1+len(f.Data)+1 > len(buf) {
			return 0, ErrBufferTooSmall
		}
	}

	n := 0
	n += copy(buf[n:], f.ReplyPath)
	crcStart := n
	buf[n] = f.InitiatorLA
	n++
	buf[n] = ProtocolIdentifier
	n++
	buf[n] = f.Instruction
	n++
	buf[n] = byte(f.Status)
	n++
	buf[n] = f.TargetLA
	n++
	if err := wire.StoreU16(buf[n:n+2], f.TransID); err != nil {
		return 0, err
	}
	n += 2

	if f.IsWrite {
		hdrCRC := wire.Crc8Reversed(buf[crcStart:n])
		buf[n] = hdrCRC
		n++
		return n, nil
	}

	buf[n] = 0x00 // reserved
	n++
	if err := wire.StoreU24(buf[n:n+3], uint32(len(f.Data))); err != nil {
		return 0, err
	}
	n += 3
	hdrCRC := wire.Crc8Reversed(buf[crcStart:n])
	buf[n] = hdrCRC
	n++
	n += copy(buf[n:], f.Data)
	buf[n] = wire.Crc8Reversed(f.Data)
	n++
	return n, nil
}
