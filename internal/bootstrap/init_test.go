package bootstrap

import (
	"testing"

	"github.com/uncord-chat/uncord-server/internal/permission"
)

func TestDefaultEveryonePermissions(t *testing.T) {
	// Permissions that MUST be set on @everyone
	required := []struct {
		perm permission.Permission
		name string
	}{
		{permission.ViewChannel, "ViewChannel"},
		{permission.SendMessages, "SendMessages"},
		{permission.ReadMessageHistory, "ReadMessageHistory"},
		{permission.AddReactions, "AddReactions"},
		{permission.CreateInstantInvite, "CreateInstantInvite"},
		{permission.ManageNicknames, "ManageNicknames"},
		{permission.Connect, "Connect"},
		{permission.Speak, "Speak"},
		{permission.UseVAD, "UseVAD"},
	}

	for _, tt := range required {
		if !DefaultEveryonePermissions.Has(tt.perm) {
			t.Errorf("DefaultEveryonePermissions missing %s", tt.name)
		}
	}

	// Privileged permissions that MUST NOT be set on @everyone
	forbidden := []struct {
		perm permission.Permission
		name string
	}{
		{permission.ManageChannels, "ManageChannels"},
		{permission.ManageRoles, "ManageRoles"},
		{permission.ManageGuild, "ManageGuild"},
		{permission.KickMembers, "KickMembers"},
		{permission.BanMembers, "BanMembers"},
		{permission.ManageMessages, "ManageMessages"},
		{permission.MentionEveryone, "MentionEveryone"},
		{permission.ManageWebhooks, "ManageWebhooks"},
		{permission.ViewAuditLog, "ViewAuditLog"},
	}

	for _, tt := range forbidden {
		if DefaultEveryonePermissions.Has(tt.perm) {
			t.Errorf("DefaultEveryonePermissions should not include %s", tt.name)
		}
	}
}
