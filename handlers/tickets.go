package handlers

import (
	"context"
	"fmt"
	"strings"

	"support-bot/config"
	"support-bot/lang"
	"support-bot/notify"
	"support-bot/priority"
	"support-bot/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	ticketModalPrefix = "ticket_modal_"
	reopenPrefix      = "reopen_ticket_"

	colorPanel   = 0x5865F2
	colorSuccess = 0x57F287
	colorClosed  = 0xED4245

	messageLimit = 2000
)

func ticketCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ticket",
			Description: "Ticket system",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "panel", Description: "Post the ticket panel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "info", Description: "Show the ticket of this channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "list", Description: "List tickets",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type: discordgo.ApplicationCommandOptionString, Name: "status", Description: "Which tickets to show",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "open", Value: "open"},
								{Name: "closed", Value: "closed"},
								{Name: "all", Value: "all"},
							},
						},
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Only tickets of this user"},
					},
				},
				{
					Name: "summary", Description: "Show the transcript summary of a closed ticket",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "id", Description: "Ticket id, e.g. T-0001", Required: true},
					},
				},
				{
					Name: "claim", Description: "Claim the ticket of this channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name: "close", Description: "Close the ticket of this channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Why the ticket is closed", Required: true},
					},
				},
			},
		},
		{
			Name: "close", Description: "Close the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Why the ticket is closed"},
			},
		},
		{
			Name: "add", Description: "Add a user to the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to add", Required: true},
			},
		},
		{
			Name: "remove", Description: "Remove a user from the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to remove", Required: true},
			},
		},
	}
}

func (h *Handler) handleTicketCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub, opts := subcommand(i)
	switch sub {
	case "panel":
		h.handleTicketPanel(s, i)
	case "info":
		h.handleTicketInfo(s, i)
	case "list":
		h.handleTicketList(s, i, subOptMap(opts))
	case "summary":
		h.handleTicketSummary(s, i, optStr(subOptMap(opts), "id", ""))
	case "claim":
		h.handleClaimButton(ctx, s, i)
	case "close":
		h.closeTicket(ctx, s, i, optStr(subOptMap(opts), "reason", ""))
	}
}

func (h *Handler) handleTicketPanel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.actor(i).Admin {
		h.fail(s, i, "panel", ticket.ErrNotAuthorized)
		return
	}
	panelCh := h.cfg.Tickets.PanelChannel
	if panelCh == "" {
		panelCh = i.ChannelID
	}

	guildLoc := h.locale(i)
	guildLoc.UserID = ""
	_, err := s.ChannelMessageSendComplex(panelCh, h.panelMessage(guildLoc))
	if err != nil {
		h.log.Warn("panel post failed", zap.String("channel_id", panelCh), zap.Error(err))
		respond(s, i, h.t(i, "errors.external"), true)
		return
	}
	if h.cfg.Tickets.PanelChannel == "" {
		h.cfg.Tickets.PanelChannel = panelCh
		h.persist("tickets.panel_channel", func(c *config.Config) { c.Tickets.PanelChannel = panelCh })
	}
	respond(s, i, h.t(i, "ticket.panel.posted", "channel", "<#"+panelCh+">"), true)
}

func (h *Handler) panelMessage(loc lang.Locale) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       h.text.Get(loc, "ticket.panel.title"),
		Description: h.text.Get(loc, "ticket.panel.description"),
		Color:       colorPanel,
		Footer:      &discordgo.MessageEmbedFooter{Text: h.text.Get(loc, "ticket.panel.footer")},
	}
	menuOpts := make([]discordgo.SelectMenuOption, 0, len(h.cfg.Tickets.Categories))
	for _, cat := range h.cfg.Tickets.Categories {
		details := cat.Details
		if details == "" {
			details = cat.Description
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  strings.TrimSpace(cat.Emoji + " " + cat.Name),
			Value: details,
		})
		menuOpts = append(menuOpts, discordgo.SelectMenuOption{
			Label:       cat.Name,
			Value:       cat.ID,
			Description: cat.Description,
			Emoji:       parseComponentEmoji(cat.Emoji),
		})
	}
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    "menu_categoria",
						Placeholder: h.text.Get(loc, "ticket.panel.placeholder"),
						Options:     menuOpts,
					},
				},
			},
		},
	}
}

// handleCategorySelect runs the creation guards before asking for a
// description so a rejected user never fills in the modal.
func (h *Handler) handleCategorySelect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	if len(data.Values) == 0 || i.GuildID == "" {
		return
	}
	catID := data.Values[0]
	a := h.actor(i)
	if err := h.tickets.CanCreate(a.ID, catID); err != nil {
		h.fail(s, i, "create", err)
		return
	}

	name := catID
	if cat, ok := h.cfg.Category(catID); ok {
		name = cat.Name
	}
	respondModal(s, i, ticketModalPrefix+catID, truncate(h.t(i, "ticket.modal.title", "category", name), 45), discordgo.TextInput{
		CustomID:    "description",
		Label:       h.t(i, "ticket.modal.label"),
		Style:       discordgo.TextInputParagraph,
		Placeholder: h.t(i, "ticket.modal.placeholder"),
		Required:    true,
		MinLength:   5,
		MaxLength:   1000,
	})
}

func (h *Handler) handleTicketModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, catID string) {
	deferReply(s, i, true)

	u := interactionUser(i)
	t, err := h.tickets.Create(ctx, ticket.CreateRequest{
		GuildID:     i.GuildID,
		UserID:      u.ID,
		Username:    u.Username,
		Category:    catID,
		Description: modalValue(i.ModalSubmitData(), "description"),
	})
	if err != nil {
		h.failDeferred(s, i, "create", err)
		return
	}
	h.postWelcome(ctx, t, "")
	editReply(s, i, h.t(i, "ticket.created", "channel", "<#"+t.ChannelID+">", "id", t.ID))
}

// postWelcome opens a ticket channel with the ticket summary and the
// claim, add user and close buttons.
func (h *Handler) postWelcome(ctx context.Context, t ticket.Ticket, reopenedBy string) {
	loc := lang.Locale{GuildID: t.GuildID}
	info := priority.Lookup(t.Priority)
	body := h.text.Get(loc, "ticket.welcome.body", "user", "<@"+t.UserID+">", "description", t.Description)
	if reopenedBy != "" {
		body = h.text.Get(loc, "ticket.reopened_notice", "staff", "<@"+reopenedBy+">") + "\n\n" + body
	}
	m := notify.Message{
		Title: h.text.Get(loc, "ticket.welcome.title", "id", t.ID),
		Body:  body,
		Color: info.Color,
		Fields: []notify.Field{
			{Name: h.text.Get(loc, "notify.field.category"), Value: h.categoryLabel(t.Category), Inline: true},
			{Name: h.text.Get(loc, "notify.field.priority"), Value: info.Emoji + " " + info.Name, Inline: true},
			{Name: h.text.Get(loc, "ticket.field.sla"), Value: priority.FormatDuration(info.SLA), Inline: true},
		},
		Mentions: []string{"<@" + t.UserID + ">"},
		Buttons: []notify.Button{
			{ID: "claim_ticket", Label: h.text.Get(loc, "ticket.button.claim")},
			{ID: "add_user", Label: h.text.Get(loc, "ticket.button.add_user")},
			{ID: "close_ticket", Label: h.text.Get(loc, "ticket.button.close")},
		},
	}
	if err := h.gw.SendChannel(ctx, t.ChannelID, m); err != nil {
		h.log.Warn("welcome message failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (h *Handler) categoryLabel(id string) string {
	if cat, ok := h.cfg.Category(id); ok {
		return strings.TrimSpace(cat.Emoji + " " + cat.Name)
	}
	return id
}

func (h *Handler) handleClaimButton(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	a := h.actor(i)
	t, err := h.tickets.Claim(ctx, i.ChannelID, a)
	if err != nil {
		h.fail(s, i, "claim", err)
		return
	}
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Description: h.t(i, "ticket.claimed", "staff", "<@"+a.ID+">", "id", t.ID),
		Color:       colorSuccess,
	}, false)
}

func (h *Handler) handleAddUserButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if _, ok := h.tickets.GetByChannel(i.ChannelID); !ok {
		h.fail(s, i, "add_member", ticket.ErrNotFound)
		return
	}
	respondModal(s, i, "add_user_modal", h.t(i, "ticket.add_modal.title"), discordgo.TextInput{
		CustomID:  "user_id",
		Label:     h.t(i, "ticket.add_modal.label"),
		Style:     discordgo.TextInputShort,
		Required:  true,
		MinLength: 15,
		MaxLength: 25,
	})
}

func (h *Handler) handleAddUserModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.addMember(ctx, s, i, parseUserID(modalValue(i.ModalSubmitData(), "user_id")))
}

func (h *Handler) handleAddUser(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.addMember(ctx, s, i, optUserID(optionMap(i), "user"))
}

func (h *Handler) addMember(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, userID string) {
	if _, err := h.tickets.AddMember(ctx, i.ChannelID, h.actor(i), userID); err != nil {
		h.fail(s, i, "add_member", err)
		return
	}
	respond(s, i, h.t(i, "ticket.member_added", "user", "<@"+userID+">"), false)
}

func (h *Handler) handleRemoveUser(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := optUserID(optionMap(i), "user")
	if _, err := h.tickets.RemoveMember(ctx, i.ChannelID, h.actor(i), userID); err != nil {
		h.fail(s, i, "remove_member", err)
		return
	}
	respond(s, i, h.t(i, "ticket.member_removed", "user", "<@"+userID+">"), false)
}

// parseUserID accepts a bare id or a mention such as <@123> or <@!123>.
func parseUserID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<@")
	raw = strings.TrimPrefix(raw, "!")
	return strings.TrimSuffix(raw, ">")
}

func (h *Handler) handleCloseButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.actor(i).Staff {
		h.fail(s, i, "close", ticket.ErrNotStaff)
		return
	}
	if _, ok := h.tickets.GetByChannel(i.ChannelID); !ok {
		h.fail(s, i, "close", ticket.ErrNotFound)
		return
	}
	h.closeModal(s, i)
}

func (h *Handler) closeModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	respondModal(s, i, "close_ticket_modal", h.t(i, "ticket.close_modal.title"), discordgo.TextInput{
		CustomID:  "reason",
		Label:     h.t(i, "ticket.close_modal.label"),
		Style:     discordgo.TextInputParagraph,
		Required:  true,
		MaxLength: 500,
	})
}

func (h *Handler) handleCloseModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.closeTicket(ctx, s, i, modalValue(i.ModalSubmitData(), "reason"))
}

// handleCloseCommand closes with the given reason or asks for one.
func (h *Handler) handleCloseCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	reason := optStr(optionMap(i), "reason", "")
	if strings.TrimSpace(reason) == "" {
		h.handleCloseButton(s, i)
		return
	}
	h.closeTicket(ctx, s, i, reason)
}

func (h *Handler) closeTicket(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, reason string) {
	deferReply(s, i, false)
	a := h.actor(i)
	t, err := h.tickets.Close(ctx, i.ChannelID, a, reason)
	if err != nil {
		h.failDeferred(s, i, "close", err)
		return
	}
	h.logClosed(ctx, t)
	editReply(s, i, h.t(i, "ticket.closing"))
}

// logClosed posts the closing record with a reopen button to the logs
// channel.
func (h *Handler) logClosed(ctx context.Context, t ticket.Ticket) {
	logCh := h.cfg.Tickets.LogsChannel
	if logCh == "" {
		return
	}
	loc := lang.Locale{GuildID: t.GuildID}
	lived := h.clock.Now().Sub(t.CreatedAt)
	if t.ClosedAt != nil {
		lived = t.ClosedAt.Sub(t.CreatedAt)
	}
	m := notify.Message{
		Title: h.text.Get(loc, "ticket.log.closed_title", "id", t.ID),
		Color: colorClosed,
		Fields: []notify.Field{
			{Name: h.text.Get(loc, "ticket.log.opened_by"), Value: "<@" + t.UserID + ">", Inline: true},
			{Name: h.text.Get(loc, "ticket.log.closed_by"), Value: "<@" + t.ClosedBy + ">", Inline: true},
			{Name: h.text.Get(loc, "notify.field.category"), Value: h.categoryLabel(t.Category), Inline: true},
			{Name: h.text.Get(loc, "notify.field.priority"), Value: priority.Lookup(t.Priority).Emoji + " " + string(t.Priority), Inline: true},
			{Name: h.text.Get(loc, "ticket.log.duration"), Value: priority.FormatDuration(lived), Inline: true},
			{Name: h.text.Get(loc, "ticket.log.reason"), Value: t.CloseReason},
		},
		Buttons: []notify.Button{{ID: reopenPrefix + t.ChannelID, Label: h.text.Get(loc, "ticket.button.reopen")}},
	}
	if err := h.gw.SendChannel(ctx, logCh, m); err != nil {
		h.log.Warn("close log failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return
	}
	if h.transcripts == nil {
		return
	}
	text, err := h.transcripts.Text(t.ChannelID)
	if err != nil {
		h.log.Debug("no transcript to attach", zap.String("ticket_id", t.ID), zap.Error(err))
		return
	}
	name := fmt.Sprintf("transcript-%s-%s.txt", t.ID, t.ChannelID)
	if err := h.gw.SendFile(ctx, logCh, name, []byte(text)); err != nil {
		h.log.Warn("transcript upload failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func (h *Handler) handleReopenButton(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, channelID string) {
	deferReply(s, i, true)
	a := h.actor(i)
	t, err := h.tickets.Reopen(ctx, channelID, a)
	if err != nil {
		h.failDeferred(s, i, "reopen", err)
		return
	}
	h.postWelcome(ctx, t, a.ID)
	editReply(s, i, h.t(i, "ticket.reopened", "id", t.ID, "channel", "<#"+t.ChannelID+">"))
}

func (h *Handler) handleSurveyButton(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, customID string) {
	id, rating, ok := notify.ParseSurveyButton(customID)
	if !ok {
		return
	}
	u := interactionUser(i)
	if u == nil {
		return
	}
	if _, err := h.tickets.Rate(ctx, id, u.ID, rating); err != nil {
		h.fail(s, i, "rate", err)
		return
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    h.t(i, "survey.thanks", "rating", strings.Repeat("⭐", rating)),
			Components: []discordgo.MessageComponent{},
		},
	})
}

func (h *Handler) handleTicketInfo(s *discordgo.Session, i *discordgo.InteractionCreate) {
	t, ok := h.tickets.GetByChannel(i.ChannelID)
	if !ok {
		h.fail(s, i, "info", ticket.ErrNotFound)
		return
	}
	a := h.actor(i)
	if !a.Staff && !t.HasMember(a.ID) {
		h.fail(s, i, "info", ticket.ErrNotAuthorized)
		return
	}
	respondEmbed(s, i, h.ticketEmbed(i, t), true)
}

func (h *Handler) ticketEmbed(i *discordgo.InteractionCreate, t ticket.Ticket) *discordgo.MessageEmbed {
	info := priority.Lookup(t.Priority)
	status := h.t(i, "ticket.status.open")
	if !t.IsOpen {
		status = h.t(i, "ticket.status.closed")
	}
	claimed := h.t(i, "ticket.info.unclaimed")
	if t.Claimed() {
		claimed = "<@" + t.ClaimedBy + ">"
	}
	sla := priority.CheckSLA(t.Priority, t.CreatedAt, t.ClosedAt, h.clock.Now())
	slaText := h.t(i, "priority.sla.ok", "percent", fmt.Sprint(sla.Percentage))
	if sla.Violated {
		slaText = h.t(i, "priority.sla.violated", "over", priority.FormatDuration(sla.Over))
	}

	return &discordgo.MessageEmbed{
		Title:       h.t(i, "ticket.info.title", "id", t.ID),
		Description: truncate(t.Description, 1024),
		Color:       info.Color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "ticket.log.opened_by"), Value: "<@" + t.UserID + ">", Inline: true},
			{Name: h.t(i, "ticket.info.status"), Value: status, Inline: true},
			{Name: h.t(i, "ticket.info.claimed_by"), Value: claimed, Inline: true},
			{Name: h.t(i, "notify.field.category"), Value: h.categoryLabel(t.Category), Inline: true},
			{Name: h.t(i, "notify.field.priority"), Value: info.Emoji + " " + info.Name, Inline: true},
			{Name: h.t(i, "notify.field.created"), Value: fmt.Sprintf("<t:%d:R>", t.CreatedAt.Unix()), Inline: true},
			{Name: h.t(i, "ticket.field.sla"), Value: slaText, Inline: true},
		},
	}
}

// handleTicketSummary shows the heuristic summary saved when the ticket's
// latest channel was closed.
func (h *Handler) handleTicketSummary(s *discordgo.Session, i *discordgo.InteractionCreate, id string) {
	if !h.actor(i).Staff {
		h.fail(s, i, "summary", ticket.ErrNotStaff)
		return
	}
	t, ok := h.tickets.Get(strings.ToUpper(strings.TrimSpace(id)))
	if !ok {
		h.fail(s, i, "summary", ticket.ErrNotFound)
		return
	}
	if h.transcripts == nil {
		h.fail(s, i, "summary", ticket.ErrNotFound)
		return
	}
	rec, err := h.transcripts.Load(t.ChannelID)
	if err != nil {
		h.log.Debug("summary not found", zap.String("ticket_id", t.ID), zap.Error(err))
		h.fail(s, i, "summary", ticket.ErrNotFound)
		return
	}

	sum := rec.Summary
	keywords := make([]string, 0, len(sum.MainKeywords))
	for _, k := range sum.MainKeywords {
		keywords = append(keywords, k.Word)
	}
	actions := "-"
	if len(sum.RecommendedActions) > 0 {
		actions = "• " + strings.Join(sum.RecommendedActions, "\n• ")
	}
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       h.t(i, "ticket.summary.title", "id", t.ID),
		Description: truncate(sum.QuickSummary, 2000),
		Color:       colorPanel,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "ticket.summary.issue"), Value: fmt.Sprintf("%s (%.0f%%)", sum.IssueType, sum.Confidence*100), Inline: true},
			{Name: h.t(i, "ticket.summary.sentiment"), Value: sum.Sentiment.Sentiment, Inline: true},
			{Name: h.t(i, "ticket.summary.complexity"), Value: string(sum.Complexity), Inline: true},
			{Name: h.t(i, "ticket.summary.duration"), Value: rec.Metadata.Duration.Formatted, Inline: true},
			{Name: h.t(i, "ticket.summary.messages"), Value: fmt.Sprint(rec.Metadata.Statistics.TotalMessages), Inline: true},
			{Name: h.t(i, "ticket.summary.keywords"), Value: orDash(strings.Join(keywords, ", ")), Inline: true},
			{Name: h.t(i, "ticket.summary.actions"), Value: truncate(actions, 1024)},
		},
	}, true)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (h *Handler) handleTicketList(s *discordgo.Session, i *discordgo.InteractionCreate, om map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !h.actor(i).Staff {
		h.fail(s, i, "list", ticket.ErrNotStaff)
		return
	}
	f := ticket.Filter{Status: ticket.StatusOpen, UserID: optUserID(om, "user")}
	switch optStr(om, "status", "open") {
	case "closed":
		f.Status = ticket.StatusClosed
	case "all":
		f.Status = ticket.StatusAll
	}

	tickets := h.tickets.List(f)
	if len(tickets) == 0 {
		respond(s, i, h.t(i, "ticket.list.empty"), true)
		return
	}
	respond(s, i, h.formatTicketList(i, tickets), true)
}

func (h *Handler) formatTicketList(i *discordgo.InteractionCreate, tickets []ticket.Ticket) string {
	var sb strings.Builder
	sb.WriteString(h.t(i, "ticket.list.title", "count", fmt.Sprint(len(tickets))))
	sb.WriteString("\n")
	for _, t := range tickets {
		line := fmt.Sprintf("• `%s` <#%s> <@%s> %s %s", t.ID, t.ChannelID, t.UserID, priority.Lookup(t.Priority).Emoji, t.Category)
		if t.Claimed() {
			line += fmt.Sprintf(" [<@%s>]", t.ClaimedBy)
		}
		if t.Escalated {
			line += " ⚠️"
		}
		if sb.Len()+len(line)+1 > messageLimit-10 {
			sb.WriteString("…")
			break
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func parseComponentEmoji(emoji string) *discordgo.ComponentEmoji {
	if emoji == "" {
		return nil
	}
	return &discordgo.ComponentEmoji{Name: emoji}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
