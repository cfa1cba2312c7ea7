package handlers

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"support-bot/config"
	"support-bot/notify"
	"support-bot/ticket"
	"support-bot/transcript"

	"github.com/bwmarrin/discordgo"
)

const (
	ownerAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles | discordgo.PermissionReadMessageHistory
	staffAllow = ownerAllow | discordgo.PermissionManageMessages
)

// Gateway adapts a discordgo session to the ports the ticket, notify and
// transcript packages drive.
type Gateway struct {
	s   *discordgo.Session
	cfg *config.Config
}

var (
	_ ticket.Platform    = (*Gateway)(nil)
	_ notify.Messenger   = (*Gateway)(nil)
	_ transcript.History = (*Gateway)(nil)
)

func NewGateway(s *discordgo.Session, cfg *config.Config) *Gateway {
	return &Gateway{s: s, cfg: cfg}
}

func (g *Gateway) guildRoles(guildID string) ([]*discordgo.Role, error) {
	if g.s.State != nil {
		if guild, err := g.s.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
			return guild.Roles, nil
		}
	}
	return g.s.GuildRoles(guildID)
}

func (g *Gateway) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if g.s.State != nil {
		if m, err := g.s.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	return g.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

// parentFor picks the Discord category a ticket channel is created under.
func parentFor(cfg *config.Config, category string) string {
	if cat, ok := cfg.Category(category); ok && cat.ParentID != "" {
		return cat.ParentID
	}
	return cfg.Tickets.DiscordCategory
}

func channelOverwrites(guildID, ownerID string, staffRoleIDs []string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: ownerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ownerAllow},
	}
	for _, id := range staffRoleIDs {
		out = append(out, &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeRole, Allow: staffAllow})
	}
	return out
}

func (g *Gateway) CreateChannel(ctx context.Context, spec ticket.ChannelSpec) (string, error) {
	roles, err := g.guildRoles(spec.GuildID)
	if err != nil {
		return "", fmt.Errorf("guild roles: %w", err)
	}
	ch, err := g.s.GuildChannelCreateComplex(spec.GuildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             parentFor(g.cfg, spec.Category),
		PermissionOverwrites: channelOverwrites(spec.GuildID, spec.OwnerID, resolveRoles(roles, g.cfg.Tickets.StaffRoles)),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (g *Gateway) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := g.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

func (g *Gateway) AddMember(ctx context.Context, channelID, userID string) error {
	return g.s.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, ownerAllow, 0, discordgo.WithContext(ctx))
}

func (g *Gateway) RemoveMember(ctx context.Context, channelID, userID string) error {
	return g.s.ChannelPermissionDelete(channelID, userID, discordgo.WithContext(ctx))
}

func (g *Gateway) SendChannel(ctx context.Context, channelID string, m notify.Message) error {
	_, err := g.s.ChannelMessageSendComplex(channelID, messageSend(m), discordgo.WithContext(ctx))
	return err
}

// SendFile uploads data as a plain text attachment.
func (g *Gateway) SendFile(ctx context.Context, channelID, name string, data []byte) error {
	_, err := g.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: name, ContentType: "text/plain", Reader: bytes.NewReader(data)}},
	}, discordgo.WithContext(ctx))
	return err
}

func (g *Gateway) SendDirect(ctx context.Context, userID string, m notify.Message) error {
	dm, err := g.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	return g.SendChannel(ctx, dm.ID, m)
}

func (g *Gateway) MembersWithRoles(ctx context.Context, guildID string, roleIDs []string) ([]string, error) {
	var out []string
	after := ""
	for {
		batch, err := g.s.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, m := range batch {
			if m.User == nil || m.User.Bot {
				continue
			}
			if slices.ContainsFunc(m.Roles, func(r string) bool { return slices.Contains(roleIDs, r) }) {
				out = append(out, m.User.ID)
			}
		}
		if len(batch) < 1000 {
			return out, nil
		}
		after = batch[len(batch)-1].User.ID
	}
}

func (g *Gateway) Messages(ctx context.Context, channelID, before string, limit int) ([]transcript.Message, error) {
	msgs, err := g.s.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]transcript.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toTranscriptMessage(m))
	}
	return out, nil
}

// IsStaff resolves a member and applies the staff rule. Unknown members are
// not staff.
func (g *Gateway) IsStaff(ctx context.Context, guildID, userID string) bool {
	m, err := g.member(ctx, guildID, userID)
	if err != nil {
		return false
	}
	roles, err := g.guildRoles(guildID)
	if err != nil {
		return false
	}
	return isStaffMember(roles, guildID, m.Roles, memberPermissions(roles, guildID, m.Roles), g.cfg.Tickets.StaffRoles)
}

func toTranscriptMessage(m *discordgo.Message) transcript.Message {
	out := transcript.Message{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Embeds:    len(m.Embeds),
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			out.AuthorName = m.Author.GlobalName
		}
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, transcript.Attachment{Name: a.Filename, URL: a.URL, Size: int64(a.Size)})
	}
	if len(m.Reactions) > 0 {
		out.Reactions = make(map[string]int, len(m.Reactions))
		for _, r := range m.Reactions {
			if r.Emoji != nil {
				out.Reactions[r.Emoji.Name] = r.Count
			}
		}
	}
	return out
}

// messageSend renders a notification as one embed plus button rows.
func messageSend(m notify.Message) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       m.Title,
		Description: m.Body,
		Color:       m.Color,
	}
	for _, f := range m.Fields {
		value := f.Value
		if strings.TrimSpace(value) == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: value, Inline: f.Inline})
	}
	out := &discordgo.MessageSend{
		Content: strings.Join(m.Mentions, " "),
		Embeds:  []*discordgo.MessageEmbed{embed},
	}
	for chunk := range slices.Chunk(m.Buttons, 5) {
		row := discordgo.ActionsRow{}
		for _, b := range chunk {
			row.Components = append(row.Components, discordgo.Button{Label: b.Label, Style: discordgo.SecondaryButton, CustomID: b.ID})
		}
		out.Components = append(out.Components, row)
	}
	return out
}
