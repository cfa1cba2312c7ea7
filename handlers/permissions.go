package handlers

import (
	"slices"
	"strings"

	"support-bot/ticket"

	"github.com/bwmarrin/discordgo"
)

var (
	adminPerm int64 = discordgo.PermissionAdministrator
	staffPerm int64 = discordgo.PermissionManageChannels
)

// resolveRoles maps configured role entries to role ids. An entry matches a
// role by id or, ignoring case, by name.
func resolveRoles(roles []*discordgo.Role, allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	var out []string
	for _, r := range roles {
		for _, a := range allowed {
			if r.ID == a || strings.EqualFold(r.Name, a) {
				out = append(out, r.ID)
				break
			}
		}
	}
	return out
}

// memberPermissions ORs the guild-wide permissions of @everyone and every
// role the member holds. Channel overwrites are not applied.
func memberPermissions(roles []*discordgo.Role, guildID string, memberRoles []string) int64 {
	var perms int64
	for _, r := range roles {
		if r.ID == guildID || slices.Contains(memberRoles, r.ID) {
			perms |= r.Permissions
		}
	}
	return perms
}

func hasAnyRole(roles []*discordgo.Role, memberRoles, allowed []string) bool {
	for _, id := range resolveRoles(roles, allowed) {
		if slices.Contains(memberRoles, id) {
			return true
		}
	}
	return false
}

// isStaffMember: a configured staff role, Manage Channels or Administrator.
func isStaffMember(roles []*discordgo.Role, guildID string, memberRoles []string, perms int64, staffRoles []string) bool {
	if perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageChannels) != 0 {
		return true
	}
	return hasAnyRole(roles, memberRoles, staffRoles)
}

func isAdminMember(roles []*discordgo.Role, memberRoles []string, perms int64, adminRoles []string) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return hasAnyRole(roles, memberRoles, adminRoles)
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// actor resolves who is behind an interaction. Outside a guild (survey
// buttons arrive in DMs) nobody is staff.
func (h *Handler) actor(i *discordgo.InteractionCreate) ticket.Actor {
	u := interactionUser(i)
	a := ticket.Actor{}
	if u != nil {
		a.ID = u.ID
		a.Name = displayName(u)
	}
	if i.Member == nil || i.GuildID == "" {
		return a
	}
	roles, err := h.gw.guildRoles(i.GuildID)
	if err != nil {
		h.log.Warn("guild roles unavailable, using interaction permissions only")
	}
	perms := i.Member.Permissions | memberPermissions(roles, i.GuildID, i.Member.Roles)
	tc := h.cfg.Tickets
	a.Admin = isAdminMember(roles, i.Member.Roles, perms, tc.AdminRoles)
	a.Staff = a.Admin || isStaffMember(roles, i.GuildID, i.Member.Roles, perms, tc.StaffRoles)
	return a
}
