package wire

import (
	"encoding/json"

	"github.com/uncord-chat/uncord-server/internal/snowflake"
)

// Frame is the wire-format envelope for every WebSocket message. Dispatch frames (op 0) carry a sequence number and
// event type; control frames use only op and, optionally, d.
type Frame struct {
	Op   Opcode          `json:"op"`
	Seq  *int64          `json:"s,omitempty"`
	Type *DispatchEvent  `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// HelloData is the payload of an op 7 Hello frame.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// IdentifyData is the payload of an op 2 Identify frame.
type IdentifyData struct {
	Token string `json:"token"`
}

// ResumeData is the payload of an op 6 Resume frame.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// PresenceUpdateRequest is the payload of a client-sent op 3 PresenceUpdate frame.
type PresenceUpdateRequest struct {
	Status string `json:"status"`
}

// PresenceUpdateData is the payload of a server-dispatched PRESENCE_UPDATE event.
type PresenceUpdateData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// PresenceState describes one member's presence in the READY payload.
type PresenceState struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ReadyData is the payload of the READY dispatch sent immediately after a successful Identify or Resume. It contains
// the full state snapshot a client needs to render the guilds the user belongs to.
type ReadyData struct {
	SessionID  string              `json:"session_id"`
	User       User                `json:"user"`
	Guilds     []Guild             `json:"guilds"`
	Presences  []PresenceState     `json:"presences"`
	Onboarding *OnboardingConfig   `json:"onboarding,omitempty"`
}

// Guild is the READY-payload representation of a guild and everything the client needs to render it: channels,
// categories, roles, and members.
type Guild struct {
	ID         snowflake.ID `json:"id"`
	Name       string       `json:"name"`
	OwnerID    snowflake.ID `json:"owner_id"`
	Channels   []Channel    `json:"channels"`
	Categories []Category   `json:"categories"`
	Roles      []Role       `json:"roles"`
	Members    []Member     `json:"members"`
}

// User is the public representation of a user account.
type User struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	DisplayName   string       `json:"display_name,omitempty"`
	AvatarURL     string       `json:"avatar_url,omitempty"`
	Email         string       `json:"email,omitempty"`
	EmailVerified bool         `json:"email_verified,omitempty"`
}

// Channel is the wire representation of a text channel.
type Channel struct {
	ID         snowflake.ID  `json:"id"`
	GuildID    snowflake.ID  `json:"guild_id"`
	CategoryID *snowflake.ID `json:"category_id,omitempty"`
	Name       string        `json:"name"`
	Topic      string        `json:"topic,omitempty"`
	Position   int           `json:"position"`
}

// Category is the wire representation of a channel category.
type Category struct {
	ID       snowflake.ID `json:"id"`
	GuildID  snowflake.ID `json:"guild_id"`
	Name     string       `json:"name"`
	Position int          `json:"position"`
}

// Role is the wire representation of a guild role.
type Role struct {
	ID          snowflake.ID `json:"id"`
	GuildID     snowflake.ID `json:"guild_id"`
	Name        string       `json:"name"`
	Color       int32        `json:"color"`
	Position    int          `json:"position"`
	Permissions int64        `json:"permissions"`
	IsEveryone  bool         `json:"is_everyone"`
}

// Member is the wire representation of a guild member.
type Member struct {
	GuildID  snowflake.ID   `json:"guild_id"`
	UserID   snowflake.ID   `json:"user_id"`
	Nickname string         `json:"nickname,omitempty"`
	RoleIDs  []snowflake.ID `json:"role_ids"`
	JoinedAt string         `json:"joined_at"`
	Status   string         `json:"status"`
}

// ChannelDeleteData is the payload of a CHANNEL_DELETE dispatch.
type ChannelDeleteData struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
}

// MemberRemoveData is the payload of a MEMBER_REMOVE dispatch.
type MemberRemoveData struct {
	GuildID snowflake.ID `json:"guild_id"`
	UserID  snowflake.ID `json:"user_id"`
}

// MessageDeleteData is the payload of a MESSAGE_DELETE dispatch.
type MessageDeleteData struct {
	ID        snowflake.ID `json:"id"`
	ChannelID snowflake.ID `json:"channel_id"`
}

// RoleDeleteData is the payload of a ROLE_DELETE dispatch.
type RoleDeleteData struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
}

// TypingStartData is the payload of a TYPING_START dispatch.
type TypingStartData struct {
	ChannelID snowflake.ID `json:"channel_id"`
	UserID    snowflake.ID `json:"user_id"`
}

// TypingStopData is the payload of a TYPING_STOP dispatch.
type TypingStopData struct {
	ChannelID snowflake.ID `json:"channel_id"`
	UserID    snowflake.ID `json:"user_id"`
}

// OnboardingConfig is the wire representation of a guild's onboarding flow configuration.
type OnboardingConfig struct {
	Enabled           bool                 `json:"enabled"`
	RequireEmailVerify bool                `json:"require_email_verify"`
	Documents         []OnboardingDocument `json:"documents"`
}

// OnboardingDocument is a single document a new member must accept during onboarding.
type OnboardingDocument struct {
	ID      snowflake.ID `json:"id"`
	Title   string       `json:"title"`
	Version int          `json:"version"`
}
