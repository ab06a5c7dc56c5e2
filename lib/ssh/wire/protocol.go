package wire

// Message numbers from RFC 4253 section 12 plus the connection-protocol
// numbers from RFC 4254.
type MessageNumber uint8

const (
	MsgDisconnect     MessageNumber = 1
	MsgIgnore         MessageNumber = 2
	MsgUnimplemented  MessageNumber = 3
	MsgDebug          MessageNumber = 4
	MsgServiceRequest MessageNumber = 5
	MsgServiceAccept  MessageNumber = 6
	MsgExtInfo        MessageNumber = 7
	MsgNewCompress    MessageNumber = 8

	MsgKexInit MessageNumber = 20
	MsgNewKeys MessageNumber = 21

	MsgECDHKexInit      MessageNumber = 30
	MsgECDHKexInitReply MessageNumber = 31

	MsgUserauthRequest MessageNumber = 50
	MsgUserauthFailure MessageNumber = 51
	MsgUserauthSuccess MessageNumber = 52
	MsgUserauthBanner  MessageNumber = 53

	// shares the number with USERAUTH_INFO_REQUEST (60)
	MsgUserauthPKOK MessageNumber = 60

	MsgUserauthInfoRequest  MessageNumber = 60
	MsgUserauthInfoResponse MessageNumber = 61

	MsgGlobalRequest  MessageNumber = 80
	MsgRequestSuccess MessageNumber = 81
	MsgRequestFailure MessageNumber = 82

	MsgChannelOpen             MessageNumber = 90
	MsgChannelOpenConfirmation MessageNumber = 91
	MsgChannelOpenFailure      MessageNumber = 92
	MsgChannelWindowAdjust     MessageNumber = 93
	MsgChannelData             MessageNumber = 94
	MsgChannelExtendedData     MessageNumber = 95
	MsgChannelEOF              MessageNumber = 96
	MsgChannelClose            MessageNumber = 97
	MsgChannelRequest          MessageNumber = 98
	MsgChannelSuccess          MessageNumber = 99
	MsgChannelFailure          MessageNumber = 100
)

const (
	// MaxPacketSize bounds one SSH packet including padding and MAC.
	MaxPacketSize = 35000

	// KexCookieSize is the random cookie in KEXINIT.
	KexCookieSize = 16

	// MinPacketSize per RFC 4253 section 6.
	MinPacketSize = 16

	// MinPaddingSize per RFC 4253 section 6.
	MinPaddingSize = 4

	// MinBlockSize is the padding alignment floor, even for ciphers with
	// smaller blocks.
	MinBlockSize = 8
)

type DisconnectReasonCode uint32

const (
	DisconnectHostNotAllowedToConnect     DisconnectReasonCode = 1
	DisconnectProtocolError               DisconnectReasonCode = 2
	DisconnectKeyExchangeFailed           DisconnectReasonCode = 3
	DisconnectReserved                    DisconnectReasonCode = 4
	DisconnectMACError                    DisconnectReasonCode = 5
	DisconnectCompressionError            DisconnectReasonCode = 6
	DisconnectServiceNotAvailable         DisconnectReasonCode = 7
	DisconnectProtocolVersionNotSupported DisconnectReasonCode = 8
	DisconnectHostKeyNotVerifiable        DisconnectReasonCode = 9
	DisconnectConnectionLost              DisconnectReasonCode = 10
	DisconnectByApplication               DisconnectReasonCode = 11
	DisconnectTooManyConnections          DisconnectReasonCode = 12
	DisconnectAuthCancelledByUser         DisconnectReasonCode = 13
	DisconnectNoMoreAuthMethodsAvailable  DisconnectReasonCode = 14
	DisconnectIllegalUserName             DisconnectReasonCode = 15
)

type ChannelOpenFailureReasonCode uint32

const (
	OpenAdministrativelyProhibited ChannelOpenFailureReasonCode = 1
	OpenConnectFailed              ChannelOpenFailureReasonCode = 2
	OpenUnknownChannelType         ChannelOpenFailureReasonCode = 3
	OpenResourceShortage           ChannelOpenFailureReasonCode = 4
)

type ChannelExtendedDataType uint32

const (
	ExtendedDataStderr ChannelExtendedDataType = 1
)

// PaddingLength returns the padding byte count for a packet where size is
// the byte count that must be block-aligned together with the padding: the
// padding_length byte plus the payload, plus the 4-byte length field unless
// the cipher treats it as AEAD associated data. The block size has a floor
// of 8 (RFC 4253 section 6); the result is at least 4. When size includes
// the length field this also keeps every packet at or above the 16-byte
// minimum; AEAD callers, whose size excludes it, add a block themselves
// for tiny payloads.
func PaddingLength(size, blockSize int) int {
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}

	p := blockSize - size%blockSize
	if p < MinPaddingSize {
		p += blockSize
	}
	return p
}
