// Package rmap implements the ECSS-E-ST-50-52C Remote Memory Access
// Protocol: packet codec, transaction table and initiator.
package rmap

// Protocol constants.
const (
	MaxTransactionID           = 65535
	MaxConcurrentTransactions  = 10
	BufferSize                 = 1024
	NumberOfReceiveBuffers     = 3
	DefaultLogicalAddress      = 0xFE
	DefaultExtendedAddress     = 0x00
	ProtocolIdentifier         = 0x01
	WriteCommandOverhead       = 17
	ReadCommandOverhead        = 16
	ReadReplyOverhead          = 13
	WriteReplyOverhead         = 8
	MaxPhysicalRouterOutputPorts = 32
	MaxAddressLength           = 12
	MaxNodeNameLength          = 20

	minReplySize = 8
)

// Instruction field bit layout, MSB-0 ordering within the byte.
const (
	instrPacketTypeShift = 6
	instrPacketTypeMask  = 0x03

	instrOperationBit = 1 << 5
	instrVerifyBit    = 1 << 4
	instrReplyBit     = 1 << 3
	instrIncrementBit = 1 << 2

	instrReplyAddrLenMask = 0x03
)

const (
	packetTypeReply   = 0x00
	packetTypeCommand = 0x01
)
