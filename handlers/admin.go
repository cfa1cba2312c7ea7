package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"support-bot/config"
	"support-bot/priority"
	"support-bot/ticket"
	"support-bot/transcript"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func adminCommands() []*discordgo.ApplicationCommand {
	minDays := 1.0
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "admin",
			Description:              "Bot administration",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "backup", Description: "Create a backup now", Type: discordgo.ApplicationCommandOptionSubCommand},
				{Name: "backups", Description: "List available backups", Type: discordgo.ApplicationCommandOptionSubCommand},
				{
					Name: "restore", Description: "Restore a backup",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Backup file name", Required: true},
					},
				},
				{
					Name: "maintenance", Description: "Toggle maintenance mode",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Block new tickets", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Shown to users"},
					},
				},
				{
					Name: "cleanup", Description: "Delete old closed tickets and transcripts",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Closed more than this many days ago (default 30)", MinValue: &minDays},
					},
				},
				{Name: "config", Description: "Show the running configuration", Type: discordgo.ApplicationCommandOptionSubCommand},
				{Name: "health", Description: "Bot health", Type: discordgo.ApplicationCommandOptionSubCommand},
				{Name: "reload", Description: "Reload tickets, statistics and languages from storage", Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
		{
			Name:                     "blacklist",
			Description:              "Block users from opening tickets",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "add", Description: "Block a user",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to block", Required: true},
					},
				},
				{
					Name: "remove", Description: "Unblock a user",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to unblock", Required: true},
					},
				},
				{Name: "list", Description: "Blocked users", Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
	}
}

func dashboardCommands() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     "dashboard",
		Description:              "Web dashboard",
		DefaultMemberPermissions: &adminPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "start", Description: "Start the dashboard server", Type: discordgo.ApplicationCommandOptionSubCommand},
			{Name: "stop", Description: "Stop the dashboard server", Type: discordgo.ApplicationCommandOptionSubCommand},
			{Name: "status", Description: "Dashboard status", Type: discordgo.ApplicationCommandOptionSubCommand},
			{Name: "url", Description: "Get a signed dashboard link", Type: discordgo.ApplicationCommandOptionSubCommand},
		},
	}
}

func (h *Handler) handleAdminCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	a := h.actor(i)
	if !a.Admin {
		h.fail(s, i, "admin", ticket.ErrNotAuthorized)
		return
	}
	sub, opts := subcommand(i)
	om := subOptMap(opts)
	switch sub {
	case "backup":
		h.handleBackup(ctx, s, i)
	case "backups":
		h.handleBackupList(s, i)
	case "restore":
		h.handleRestore(ctx, s, i, optStr(om, "name", ""))
	case "maintenance":
		h.handleMaintenance(ctx, s, i, a, optBool(om, "enabled", false), optStr(om, "reason", ""))
	case "cleanup":
		h.handleCleanup(ctx, s, i, a, int(optInt(om, "days", 30)))
	case "config":
		h.handleConfigShow(s, i)
	case "health":
		h.handleHealth(ctx, s, i)
	case "reload":
		deferReply(s, i, true)
		if err := h.reload(ctx); err != nil {
			h.failDeferred(s, i, "reload", err)
			return
		}
		editReply(s, i, h.t(i, "admin.reloaded"))
	}
}

func (h *Handler) handleBackup(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferReply(s, i, true)
	info, err := h.backups.Create(ctx)
	if err != nil {
		h.failDeferred(s, i, "backup", err)
		return
	}
	editReply(s, i, h.t(i, "admin.backup.created",
		"name", info.Name,
		"size", transcript.FormatFileSize(info.Size),
		"tickets", fmt.Sprint(info.Tickets),
	))
}

func (h *Handler) handleBackupList(s *discordgo.Session, i *discordgo.InteractionCreate) {
	list, err := h.backups.List()
	if err != nil {
		h.fail(s, i, "backups", err)
		return
	}
	if len(list) == 0 {
		respond(s, i, h.t(i, "admin.backup.none"), true)
		return
	}
	var sb strings.Builder
	sb.WriteString(h.t(i, "admin.backup.list_title", "count", fmt.Sprint(len(list))))
	sb.WriteString("\n")
	for _, b := range list[:min(len(list), 20)] {
		sb.WriteString(fmt.Sprintf("• `%s` %s <t:%d:R>\n", b.Name, transcript.FormatFileSize(b.Size), b.CreatedAt.Unix()))
	}
	respond(s, i, sb.String(), true)
}

func (h *Handler) handleRestore(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, name string) {
	deferReply(s, i, true)
	safety, err := h.backups.Restore(ctx, name)
	if err != nil {
		h.log.Warn("restore failed", zap.String("backup", name), zap.Error(err))
		editReply(s, i, h.t(i, "admin.backup.restore_failed", "name", name))
		return
	}
	if err := h.reload(ctx); err != nil {
		h.failDeferred(s, i, "reload", err)
		return
	}
	h.log.Info("backup restored", zap.String("backup", name), zap.String("safety_backup", safety.Name))
	editReply(s, i, h.t(i, "admin.backup.restored", "name", name, "safety", safety.Name))
}

func (h *Handler) handleMaintenance(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, a ticket.Actor, on bool, reason string) {
	if err := h.tickets.SetMaintenance(ctx, a, on, reason); err != nil {
		h.fail(s, i, "maintenance", err)
		return
	}
	key := "admin.maintenance.off"
	if on {
		key = "admin.maintenance.on"
	}
	respond(s, i, h.t(i, key), true)
}

func (h *Handler) handleCleanup(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, a ticket.Actor, days int) {
	olderThan := time.Duration(days) * 24 * time.Hour
	removed, err := h.tickets.Cleanup(ctx, a, olderThan)
	if err != nil {
		h.fail(s, i, "cleanup", err)
		return
	}
	files := 0
	if h.transcripts != nil {
		files, err = h.transcripts.Cleanup(h.clock.Now().Add(-olderThan))
		if err != nil {
			h.log.Warn("transcript cleanup failed", zap.Error(err))
		}
	}
	respond(s, i, h.t(i, "admin.cleanup.done",
		"tickets", fmt.Sprint(len(removed)),
		"files", fmt.Sprint(files),
		"days", fmt.Sprint(days),
	), true)
}

func (h *Handler) handleConfigShow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data, err := json.MarshalIndent(h.cfg.Redacted(), "", "  ")
	if err != nil {
		h.fail(s, i, "config", err)
		return
	}
	respond(s, i, "```json\n"+truncate(string(data), messageLimit-12)+"\n```", true)
}

func (h *Handler) handleHealth(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	store := "✅"
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("store ping failed", zap.Error(err))
		store = "❌ " + err.Error()
	}
	counts := h.tickets.Counts()
	m := h.tickets.Maintenance()
	maint := h.t(i, "admin.health.maintenance_off")
	if m.Enabled {
		maint = h.t(i, "admin.health.maintenance_on", "reason", m.Reason)
	}
	dash := "-"
	if h.dash != nil && h.dash.Running() {
		dash = h.dash.Addr()
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: h.t(i, "admin.health.title"),
		Color: colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "admin.health.uptime"), Value: priority.FormatDuration(h.clock.Now().Sub(h.started)), Inline: true},
			{Name: h.t(i, "admin.health.latency"), Value: s.HeartbeatLatency().Round(time.Millisecond).String(), Inline: true},
			{Name: h.t(i, "admin.health.storage"), Value: h.cfg.Database.Driver + " " + store, Inline: true},
			{Name: h.t(i, "stats.field.open"), Value: fmt.Sprint(counts.Open), Inline: true},
			{Name: h.t(i, "admin.health.unclaimed"), Value: fmt.Sprint(counts.Unclaimed), Inline: true},
			{Name: h.t(i, "admin.health.escalated"), Value: fmt.Sprint(counts.Escalated), Inline: true},
			{Name: h.t(i, "admin.health.maintenance"), Value: maint, Inline: true},
			{Name: "Dashboard", Value: dash, Inline: true},
		},
	}, true)
}

func (h *Handler) handleBlacklistCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	a := h.actor(i)
	sub, opts := subcommand(i)
	userID := optUserID(subOptMap(opts), "user")
	switch sub {
	case "add", "remove":
		if err := h.tickets.SetBlacklisted(ctx, a, userID, sub == "add"); err != nil {
			h.fail(s, i, "blacklist", err)
			return
		}
		respond(s, i, h.t(i, "blacklist."+sub, "user", "<@"+userID+">"), true)
	case "list":
		if !a.Admin {
			h.fail(s, i, "blacklist", ticket.ErrNotAuthorized)
			return
		}
		ids := h.tickets.Blacklist()
		if len(ids) == 0 {
			respond(s, i, h.t(i, "blacklist.empty"), true)
			return
		}
		mentions := make([]string, len(ids))
		for n, id := range ids {
			mentions[n] = "<@" + id + ">"
		}
		respond(s, i, h.t(i, "blacklist.list", "count", fmt.Sprint(len(ids)))+"\n"+truncate(strings.Join(mentions, " "), messageLimit-100), true)
	}
}

func (h *Handler) handleDashboardCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	a := h.actor(i)
	if !a.Admin {
		h.fail(s, i, "dashboard", ticket.ErrNotAuthorized)
		return
	}
	if h.dash == nil {
		respond(s, i, h.t(i, "dashboard.disabled"), true)
		return
	}
	sub, _ := subcommand(i)
	switch sub {
	case "start":
		if err := h.dash.Start(); err != nil {
			h.log.Warn("dashboard start failed", zap.Error(err))
			respond(s, i, h.t(i, "dashboard.start_failed", "error", err.Error()), true)
			return
		}
		h.cfg.Dashboard.Enabled = true
		h.persist("dashboard.enabled", func(c *config.Config) { c.Dashboard.Enabled = true })
		respond(s, i, h.t(i, "dashboard.started", "addr", h.dash.Addr()), true)
	case "stop":
		if err := h.dash.Shutdown(ctx); err != nil {
			h.fail(s, i, "dashboard", err)
			return
		}
		h.cfg.Dashboard.Enabled = false
		h.persist("dashboard.enabled", func(c *config.Config) { c.Dashboard.Enabled = false })
		respond(s, i, h.t(i, "dashboard.stopped"), true)
	case "status":
		if h.dash.Running() {
			respond(s, i, h.t(i, "dashboard.running", "addr", h.dash.Addr()), true)
			return
		}
		respond(s, i, h.t(i, "dashboard.not_running"), true)
	case "url":
		url, err := h.dash.URL(a.ID)
		if err != nil {
			h.fail(s, i, "dashboard", err)
			return
		}
		respond(s, i, h.t(i, "dashboard.url", "url", url, "ttl", h.cfg.Dashboard.TokenTTL.String()), true)
	}
}
