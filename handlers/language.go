package handlers

import (
	"context"
	"fmt"
	"strings"

	"support-bot/lang"
	"support-bot/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func languageCommands() *discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(lang.Supported))
	for _, l := range lang.Supported {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: l.Flag + " " + l.Name, Value: l.Code})
	}
	userChoices := append([]*discordgo.ApplicationCommandOptionChoice{{Name: "🔄 Reset", Value: "reset"}}, choices...)

	return &discordgo.ApplicationCommand{
		Name:        "language",
		Description: "Language settings",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name: "server", Description: "Set the server language",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "language", Description: "Language", Required: true, Choices: choices},
				},
			},
			{
				Name: "user", Description: "Set your personal language",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "language", Description: "Language", Required: true, Choices: userChoices},
				},
			},
			{Name: "list", Description: "Available languages", Type: discordgo.ApplicationCommandOptionSubCommand},
			{Name: "current", Description: "Show the languages in effect", Type: discordgo.ApplicationCommandOptionSubCommand},
		},
	}
}

func (h *Handler) handleLanguageCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub, opts := subcommand(i)
	code := optStr(subOptMap(opts), "language", "")
	switch sub {
	case "server":
		if !h.actor(i).Admin {
			h.fail(s, i, "language", ticket.ErrNotAuthorized)
			return
		}
		if err := h.text.SetGuild(ctx, i.GuildID, code); err != nil {
			h.log.Debug("set guild language", zap.Error(err))
			h.fail(s, i, "language", ticket.ErrInvalidInput)
			return
		}
		respond(s, i, h.t(i, "language.server_set", "language", lang.Flag(code)+" "+code), true)
	case "user":
		u := interactionUser(i)
		if code == "reset" {
			code = ""
		}
		if err := h.text.SetUser(ctx, u.ID, code); err != nil {
			h.fail(s, i, "language", ticket.ErrInvalidInput)
			return
		}
		if code == "" {
			respond(s, i, h.t(i, "language.user_reset"), true)
			return
		}
		respond(s, i, h.t(i, "language.user_set", "language", lang.Flag(code)+" "+code), true)
	case "list":
		respondEmbed(s, i, h.languageListEmbed(i), true)
	case "current":
		h.handleLanguageCurrent(s, i)
	}
}

func (h *Handler) languageListEmbed(i *discordgo.InteractionCreate) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, c := range h.text.Coverage() {
		sb.WriteString(fmt.Sprintf("%s **%s** `%s` %d%%\n", c.Flag, c.Name, c.Code, c.Percent))
	}
	guilds, users := h.text.Usage()
	return &discordgo.MessageEmbed{
		Title:       h.t(i, "language.list.title"),
		Description: sb.String(),
		Color:       colorPanel,
		Footer: &discordgo.MessageEmbedFooter{Text: h.t(i, "language.list.usage",
			"guilds", fmt.Sprint(sum(guilds)),
			"users", fmt.Sprint(sum(users)),
		)},
	}
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func (h *Handler) handleLanguageCurrent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	loc := h.locale(i)
	server := h.text.Resolve(lang.Locale{GuildID: loc.GuildID})
	effective := h.text.Resolve(loc)
	respond(s, i, h.t(i, "language.current",
		"server", lang.Flag(server)+" "+server,
		"effective", lang.Flag(effective)+" "+effective,
	), true)
}
