package protocol

// FLAP channels carried in byte 1 of the stream header.
const (
	ChannelSignOn    uint8 = 0x01
	ChannelSNAC      uint8 = 0x02
	ChannelError     uint8 = 0x03
	ChannelSignOff   uint8 = 0x04
	ChannelKeepalive uint8 = 0x05
)

// FlapVersion is the protocol version exchanged on the sign-on channel.
const FlapVersion uint32 = 0x00000001

// Well-known SNAC families. The engine does not interpret them; they exist
// so callers and logs can name what they register.
const (
	FamilyOService   uint16 = 0x0001
	FamilyLocate     uint16 = 0x0002
	FamilyBuddy      uint16 = 0x0003
	FamilyICBM       uint16 = 0x0004
	FamilyAdvert     uint16 = 0x0005
	FamilyInvite     uint16 = 0x0006
	FamilyAdmin      uint16 = 0x0007
	FamilyPopup      uint16 = 0x0008
	FamilyPermitDeny uint16 = 0x0009
	FamilyUserLookup uint16 = 0x000a
	FamilyStats      uint16 = 0x000b
	FamilyTranslate  uint16 = 0x000c
	FamilyChatNav    uint16 = 0x000d
	FamilyChat       uint16 = 0x000e
	FamilyODir       uint16 = 0x000f
	FamilyBART       uint16 = 0x0010
	FamilyFeedbag    uint16 = 0x0013
	FamilyICQ        uint16 = 0x0015
	FamilyBUCP       uint16 = 0x0017
	FamilyAlert      uint16 = 0x0018

	// FamilySpecial is the pseudo family for engine-generated events.
	FamilySpecial uint16 = 0xffff
)

// Special subtypes. SubtypeDefault doubles as the family-default marker in
// handler tables and, under FamilySpecial, as the global default.
const (
	SubtypeUnknown      uint16 = 0x0001
	SubtypeConnErr      uint16 = 0x0003
	SubtypeConnComplete uint16 = 0x0004
	SubtypeFlapVersion  uint16 = 0x0005
	SubtypeConnInitDone uint16 = 0x0006
	SubtypeKeepalive    uint16 = 0x0009
	SubtypeDefault      uint16 = 0xffff
)

// SNAC header flags.
const (
	SNACFlagMoreReplies uint16 = 0x0001
	SNACFlagExtraInfo   uint16 = 0x8000
)

// Sign-off TLVs sent on the error/close channel.
const (
	TLVErrorCode uint16 = 0x0009
	TLVErrorURL  uint16 = 0x000b
)

// FramingKind selects one of the two physical encodings.
type FramingKind uint8

const (
	FramingStream FramingKind = iota + 1
	FramingRendezvous
)

func (k FramingKind) String() string {
	switch k {
	case FramingStream:
		return "stream"
	case FramingRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// ConnType identifies the role a connection plays in a session.
type ConnType uint16

const (
	ConnAuth ConnType = iota + 1
	ConnBOS
	ConnChatNav
	ConnChat
	ConnRendezvous
	ConnRendezvousOut
	ConnListener
)

func (t ConnType) String() string {
	switch t {
	case ConnAuth:
		return "auth"
	case ConnBOS:
		return "bos"
	case ConnChatNav:
		return "chatnav"
	case ConnChat:
		return "chat"
	case ConnRendezvous:
		return "rendezvous"
	case ConnRendezvousOut:
		return "rendezvous_out"
	case ConnListener:
		return "listener"
	default:
		return "unknown"
	}
}

// CookieType tags a rendezvous cookie with the exchange it belongs to.
type CookieType uint8

const (
	CookieUnknown CookieType = iota
	CookieICBM
	CookieAds
	CookieBOS
	CookieIM
	CookieChat
	CookieChatNav
	CookieInvite
	CookieDirectIM
	CookieFileGet
	CookieFileSend
	CookieVoice
	CookieImage
	CookieIcon
)

func (t CookieType) String() string {
	switch t {
	case CookieICBM:
		return "icbm"
	case CookieAds:
		return "ads"
	case CookieBOS:
		return "bos"
	case CookieIM:
		return "im"
	case CookieChat:
		return "chat"
	case CookieChatNav:
		return "chatnav"
	case CookieInvite:
		return "invite"
	case CookieDirectIM:
		return "direct_im"
	case CookieFileGet:
		return "file_get"
	case CookieFileSend:
		return "file_send"
	case CookieVoice:
		return "voice"
	case CookieImage:
		return "image"
	case CookieIcon:
		return "icon"
	default:
		return "unknown"
	}
}
