// Package wire defines the gateway's wire-format types: opcodes, dispatch event names, and the payload DTOs carried
// inside frames. These types are internalized here because they form the wire contract between the server and
// clients and are shared between the REST API and the WebSocket gateway.
package wire

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpcodeDispatch       Opcode = 0
	OpcodeHeartbeat      Opcode = 1
	OpcodeIdentify       Opcode = 2
	OpcodePresenceUpdate Opcode = 3
	OpcodeReconnect      Opcode = 4
	OpcodeInvalidSession Opcode = 5
	OpcodeResume         Opcode = 6
	OpcodeHello          Opcode = 7
	OpcodeHeartbeatACK   Opcode = 8
)

// DispatchEvent names an op-0 dispatch payload's event type.
type DispatchEvent string

const (
	Ready    DispatchEvent = "READY"
	Resumed  DispatchEvent = "RESUMED"
	GuildUpdate DispatchEvent = "GUILD_UPDATE"

	ChannelCreate DispatchEvent = "CHANNEL_CREATE"
	ChannelUpdate DispatchEvent = "CHANNEL_UPDATE"
	ChannelDelete DispatchEvent = "CHANNEL_DELETE"

	CategoryCreate DispatchEvent = "CATEGORY_CREATE"
	CategoryUpdate DispatchEvent = "CATEGORY_UPDATE"
	CategoryDelete DispatchEvent = "CATEGORY_DELETE"

	RoleCreate DispatchEvent = "ROLE_CREATE"
	RoleUpdate DispatchEvent = "ROLE_UPDATE"
	RoleDelete DispatchEvent = "ROLE_DELETE"

	MemberAdd    DispatchEvent = "MEMBER_ADD"
	MemberUpdate DispatchEvent = "MEMBER_UPDATE"
	MemberRemove DispatchEvent = "MEMBER_REMOVE"

	MessageCreate DispatchEvent = "MESSAGE_CREATE"
	MessageUpdate DispatchEvent = "MESSAGE_UPDATE"
	MessageDelete DispatchEvent = "MESSAGE_DELETE"

	PresenceUpdate DispatchEvent = "PRESENCE_UPDATE"
	TypingStart    DispatchEvent = "TYPING_START"
	TypingStop     DispatchEvent = "TYPING_STOP"

	InviteCreate DispatchEvent = "INVITE_CREATE"
	InviteDelete DispatchEvent = "INVITE_DELETE"
)
