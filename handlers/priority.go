package handlers

import (
	"context"
	"fmt"
	"strings"

	"support-bot/priority"
	"support-bot/ticket"

	"github.com/bwmarrin/discordgo"
)

func priorityCommands() *discordgo.ApplicationCommand {
	levels := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(priority.Levels))
	for _, l := range priority.Levels {
		info := priority.Lookup(l)
		levels = append(levels, &discordgo.ApplicationCommandOptionChoice{Name: info.Emoji + " " + string(l), Value: string(l)})
	}
	return &discordgo.ApplicationCommand{
		Name:                     "priority",
		Description:              "Ticket priority management",
		DefaultMemberPermissions: &staffPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name: "set", Description: "Change the priority of this ticket",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "level", Description: "New priority", Required: true, Choices: levels},
					{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Why the priority changes"},
				},
			},
			{
				Name: "info", Description: "Show priority levels and their SLAs",
				Type: discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name: "check", Description: "Check the SLA of this ticket",
				Type: discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name: "metrics", Description: "Priority distribution and SLA compliance",
				Type: discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

func (h *Handler) handlePriorityCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub, opts := subcommand(i)
	om := subOptMap(opts)
	switch sub {
	case "set":
		h.handlePrioritySet(ctx, s, i, optStr(om, "level", ""), optStr(om, "reason", ""))
	case "info":
		h.handlePriorityInfo(s, i)
	case "check":
		h.handlePriorityCheck(s, i)
	case "metrics":
		h.handlePriorityMetrics(s, i)
	}
}

func (h *Handler) handlePrioritySet(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, raw, reason string) {
	level, err := priority.Parse(raw)
	if err != nil {
		h.fail(s, i, "priority", ticket.ErrInvalidInput)
		return
	}
	a := h.actor(i)
	before, _ := h.tickets.GetByChannel(i.ChannelID)
	t, err := h.tickets.ChangePriority(ctx, i.ChannelID, a, level, reason)
	if err != nil {
		h.fail(s, i, "priority", err)
		return
	}
	from, to := priority.Lookup(before.Priority), priority.Lookup(t.Priority)
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: h.t(i, "priority.changed.title", "id", t.ID),
		Description: h.t(i, "priority.changed.body",
			"from", from.Emoji+" "+from.Name,
			"to", to.Emoji+" "+to.Name,
			"staff", "<@"+a.ID+">",
		),
		Color: to.Color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "ticket.field.sla"), Value: priority.FormatDuration(to.SLA), Inline: true},
			{Name: h.t(i, "priority.field.escalation"), Value: priority.FormatDuration(to.Escalation), Inline: true},
		},
	}, false)
}

func (h *Handler) handlePriorityInfo(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title: h.t(i, "priority.info.title"),
		Color: colorPanel,
	}
	for _, l := range priority.Levels {
		info := priority.Lookup(l)
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: info.Emoji + " " + info.Name,
			Value: h.t(i, "priority.info.level",
				"sla", priority.FormatDuration(info.SLA),
				"escalation", priority.FormatDuration(info.Escalation),
				"keywords", strings.Join(info.Keywords[:min(len(info.Keywords), 5)], ", "),
			),
		})
	}
	respondEmbed(s, i, embed, true)
}

func (h *Handler) handlePriorityCheck(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, ok := h.tickets.GetByChannel(i.ChannelID)
	if !ok {
		h.fail(s, i, "sla", ticket.ErrNotFound)
		return
	}
	info := priority.Lookup(t.Priority)
	res := priority.CheckSLA(t.Priority, t.CreatedAt, t.ClosedAt, h.clock.Now())
	status := h.t(i, "priority.sla.ok", "percent", fmt.Sprint(res.Percentage))
	color := colorSuccess
	if res.Violated {
		status = h.t(i, "priority.sla.violated", "over", priority.FormatDuration(res.Over))
		color = colorClosed
	}
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       h.t(i, "priority.check.title", "id", t.ID),
		Description: status,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "notify.field.priority"), Value: info.Emoji + " " + info.Name, Inline: true},
			{Name: h.t(i, "ticket.field.sla"), Value: priority.FormatDuration(res.SLA), Inline: true},
			{Name: h.t(i, "priority.field.elapsed"), Value: priority.FormatDuration(res.Actual), Inline: true},
		},
	}, true)
}

func (h *Handler) handlePriorityMetrics(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.actor(i).Staff {
		h.fail(s, i, "metrics", ticket.ErrNotStaff)
		return
	}
	m := priority.CalculateMetrics(h.tickets.Samples(), h.clock.Now())
	embed := &discordgo.MessageEmbed{
		Title:       h.t(i, "priority.metrics.title"),
		Description: h.t(i, "priority.metrics.escalations", "count", fmt.Sprint(m.Escalations)),
		Color:       colorPanel,
	}
	for _, l := range priority.Levels {
		info := priority.Lookup(l)
		avg := m.AvgResolution[l]
		if avg == "" {
			avg = "N/A"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: info.Emoji + " " + info.Name,
			Value: h.t(i, "priority.metrics.level",
				"count", fmt.Sprint(m.Distribution[l]),
				"compliance", fmt.Sprint(m.SLACompliance[l]),
				"avg", avg,
			),
			Inline: true,
		})
	}
	respondEmbed(s, i, embed, true)
}
