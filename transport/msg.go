package transport

import "strconv"

// SSH message codes (RFC 4253–4254), the dispatcher's switch key: the
// first byte of every packet payload.
const (
	MsgDisconnect     = 1
	MsgIgnore         = 2
	MsgUnimplemented  = 3
	MsgDebug          = 4
	MsgServiceRequest = 5
	MsgServiceAccept  = 6

	MsgKexInit   = 20
	MsgNewKeys   = 21
	MsgKexDHInit  = 30
	MsgKexDHReply = 31

	MsgUserauthRequest = 50
	MsgUserauthFailure = 51
	MsgUserauthSuccess = 52
	MsgUserauthPKOK    = 60

	MsgGlobalRequest  = 80
	MsgRequestSuccess = 81
	MsgRequestFailure = 82

	MsgChannelOpen             = 90
	MsgChannelOpenConfirmation = 91
	MsgChannelOpenFailure      = 92
	MsgChannelWindowAdjust     = 93
	MsgChannelData             = 94
	MsgChannelExtendedData     = 95
	MsgChannelEOF              = 96
	MsgChannelClose            = 97
	MsgChannelRequest          = 98
	MsgChannelSuccess          = 99
	MsgChannelFailure          = 100
)

// Disconnect reason codes (RFC 4253 §11.1).
const (
	// DisconnectProtocolError is sent when a MAC check fails or a
	// malformed packet is received — the connection cannot be trusted
	// to continue.
	DisconnectProtocolError = 2
	// DisconnectByApplication is the reason code the session façade
	// sends on a normal close.
	DisconnectByApplication = 11
)

// msgName renders a message code for log lines; unrecognized codes are
// logged numerically rather than failing, since IGNORE/DEBUG/UNIMPLEMENTED
// traffic is allowed to appear anywhere in the stream.
func msgName(code byte) string {
	switch code {
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgIgnore:
		return "IGNORE"
	case MsgUnimplemented:
		return "UNIMPLEMENTED"
	case MsgDebug:
		return "DEBUG"
	case MsgServiceRequest:
		return "SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SERVICE_ACCEPT"
	case MsgKexInit:
		return "KEXINIT"
	case MsgNewKeys:
		return "NEWKEYS"
	case MsgKexDHInit:
		return "KEXDH_INIT"
	case MsgKexDHReply:
		return "KEXDH_REPLY"
	case MsgUserauthRequest:
		return "USERAUTH_REQUEST"
	case MsgUserauthFailure:
		return "USERAUTH_FAILURE"
	case MsgUserauthSuccess:
		return "USERAUTH_SUCCESS"
	case MsgUserauthPKOK:
		return "USERAUTH_PK_OK"
	case MsgGlobalRequest:
		return "GLOBAL_REQUEST"
	case MsgRequestSuccess:
		return "REQUEST_SUCCESS"
	case MsgRequestFailure:
		return "REQUEST_FAILURE"
	case MsgChannelOpen:
		return "CHANNEL_OPEN"
	case MsgChannelOpenConfirmation:
		return "CHANNEL_OPEN_CONFIRMATION"
	case MsgChannelOpenFailure:
		return "CHANNEL_OPEN_FAILURE"
	case MsgChannelWindowAdjust:
		return "CHANNEL_WINDOW_ADJUST"
	case MsgChannelData:
		return "CHANNEL_DATA"
	case MsgChannelExtendedData:
		return "CHANNEL_EXTENDED_DATA"
	case MsgChannelEOF:
		return "CHANNEL_EOF"
	case MsgChannelClose:
		return "CHANNEL_CLOSE"
	case MsgChannelRequest:
		return "CHANNEL_REQUEST"
	case MsgChannelSuccess:
		return "CHANNEL_SUCCESS"
	case MsgChannelFailure:
		return "CHANNEL_FAILURE"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(code)) + ")"
	}
}
