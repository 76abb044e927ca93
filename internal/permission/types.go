// Package permission implements the effective-permission resolution algorithm: owner bypass, role-bitfield union,
// the ADMINISTRATOR wildcard, and ordered channel/category overwrite application.
package permission

import "github.com/uncord-chat/uncord-server/internal/snowflake"

// Permission is a 64-bit bitfield. Only bits 0-40 are defined; bits 41-63 are reserved.
type Permission int64

// Bit catalog. Order and bit position are part of the wire contract — never renumber a bit.
const (
	CreateInstantInvite    Permission = 1 << 0
	KickMembers            Permission = 1 << 1
	BanMembers             Permission = 1 << 2
	Administrator          Permission = 1 << 3
	ManageChannels         Permission = 1 << 4
	ManageGuild            Permission = 1 << 5
	AddReactions           Permission = 1 << 6
	ViewAuditLog           Permission = 1 << 7
	PrioritySpeaker        Permission = 1 << 8
	Stream                 Permission = 1 << 9
	ViewChannel            Permission = 1 << 10
	SendMessages           Permission = 1 << 11
	SendTTSMessages        Permission = 1 << 12
	ManageMessages         Permission = 1 << 13
	EmbedLinks             Permission = 1 << 14
	AttachFiles            Permission = 1 << 15
	ReadMessageHistory     Permission = 1 << 16
	MentionEveryone        Permission = 1 << 17
	UseExternalEmojis      Permission = 1 << 18
	ViewGuildInsights      Permission = 1 << 19
	Connect                Permission = 1 << 20
	Speak                  Permission = 1 << 21
	MuteMembers            Permission = 1 << 22
	DeafenMembers          Permission = 1 << 23
	MoveMembers            Permission = 1 << 24
	UseVAD                 Permission = 1 << 25
	ChangeNickname         Permission = 1 << 26
	ManageNicknames        Permission = 1 << 27
	ManageRoles            Permission = 1 << 28
	ManageWebhooks         Permission = 1 << 29
	ManageEmojisStickers   Permission = 1 << 30
	UseApplicationCommands Permission = 1 << 31
	RequestToSpeak         Permission = 1 << 32
	ManageEvents           Permission = 1 << 33
	ManageThreads          Permission = 1 << 34
	CreatePublicThreads    Permission = 1 << 35
	CreatePrivateThreads   Permission = 1 << 36
	UseExternalStickers    Permission = 1 << 37
	SendMessagesInThreads  Permission = 1 << 38
	UseEmbeddedActivities  Permission = 1 << 39
	ModerateMembers        Permission = 1 << 40

	// All is the union of every defined bit (41 ones). ADMINISTRATOR is a wildcard that behaves identically to All
	// and additionally bypasses channel/category overwrites.
	All Permission = (1 << 41) - 1
)

// Has reports whether every bit set in want is also set in p.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// Any reports whether at least one bit set in want is also set in p.
func (p Permission) Any(want Permission) bool {
	return p&want != 0
}

// Add returns p with the bits of other set.
func (p Permission) Add(other Permission) Permission {
	return p | other
}

// Remove returns p with the bits of other cleared.
func (p Permission) Remove(other Permission) Permission {
	return p &^ other
}

// IsAdministrator reports whether the ADMINISTRATOR wildcard bit is set.
func (p Permission) IsAdministrator() bool {
	return p&Administrator != 0
}

// TargetType identifies whether a permission override applies to a channel or category.
type TargetType string

const (
	TargetChannel  TargetType = "channel"
	TargetCategory TargetType = "category"
)

// PrincipalType identifies whether a permission override is for a role or member.
type PrincipalType string

const (
	PrincipalRole   PrincipalType = "role"
	PrincipalMember PrincipalType = "member"
)

// Override represents a channel or category-level permission override.
type Override struct {
	PrincipalType PrincipalType
	PrincipalID   snowflake.ID
	Allow         Permission
	Deny          Permission
}

// ApplyOverwrite applies a single (allow, deny) overwrite to a base bitfield: deny bits are cleared then allow bits
// are set. Idempotent by construction: applying the same pair twice yields the same result as applying it once.
func ApplyOverwrite(base Permission, allow, deny Permission) Permission {
	return (base &^ deny) | allow
}
