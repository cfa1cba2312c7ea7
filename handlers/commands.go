package handlers

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"support-bot/backup"
	"support-bot/clock"
	"support-bot/config"
	"support-bot/dashboard"
	"support-bot/lang"
	"support-bot/stats"
	"support-bot/storage"
	"support-bot/ticket"
	"support-bot/transcript"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// interactionTimeout bounds one interaction, transcript fetches included.
const interactionTimeout = 2 * time.Minute

type Deps struct {
	Config      *config.Config
	ConfigPath  string
	Gateway     *Gateway
	Tickets     *ticket.Service
	Stats       *stats.Manager
	Text        *lang.Catalog
	Transcripts *transcript.Manager
	Backups     *backup.Manager
	Dashboard   *dashboard.Server
	Store       storage.Store
	Clock       clock.Clock
	Logger      *zap.Logger
	// Reload re-reads every store-backed component after a restore.
	Reload func(ctx context.Context) error
}

type Handler struct {
	cfg         *config.Config
	cfgPath     string
	gw          *Gateway
	tickets     *ticket.Service
	stats       *stats.Manager
	text        *lang.Catalog
	transcripts *transcript.Manager
	backups     *backup.Manager
	dash        *dashboard.Server
	store       storage.Store
	clock       clock.Clock
	log         *zap.Logger
	reload      func(ctx context.Context) error
	started     time.Time
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Text == nil {
		d.Text = lang.Default()
	}
	if d.Reload == nil && d.Tickets != nil {
		d.Reload = d.Tickets.Reload
	}
	return &Handler{
		cfg:         d.Config,
		cfgPath:     d.ConfigPath,
		gw:          d.Gateway,
		tickets:     d.Tickets,
		stats:       d.Stats,
		text:        d.Text,
		transcripts: d.Transcripts,
		backups:     d.Backups,
		dash:        d.Dashboard,
		store:       d.Store,
		clock:       d.Clock,
		log:         d.Logger.Named("handlers"),
		reload:      d.Reload,
		started:     d.Clock.Now(),
	}
}

func Commands(cfg *config.Config) []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0)
	cmds = append(cmds, ticketCommands()...)
	cmds = append(cmds, priorityCommands())
	cmds = append(cmds, statsCommands())
	cmds = append(cmds, languageCommands())
	cmds = append(cmds, adminCommands()...)
	if cfg.Dashboard.Secret != "" {
		cmds = append(cmds, dashboardCommands())
	}
	return cmds
}

func (h *Handler) Register(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("interaction handler panicked",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()

		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			if i.GuildID == "" {
				return
			}
			h.handleSlashCommand(ctx, s, i)
		case discordgo.InteractionMessageComponent:
			h.handleComponent(ctx, s, i)
		case discordgo.InteractionModalSubmit:
			if i.GuildID == "" {
				return
			}
			h.handleModal(ctx, s, i)
		}
	})
}

func (h *Handler) handleSlashCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name

	switch name {
	case "ticket":
		h.handleTicketCommand(ctx, s, i)
	case "close":
		h.handleCloseCommand(ctx, s, i)
	case "add":
		h.handleAddUser(ctx, s, i)
	case "remove":
		h.handleRemoveUser(ctx, s, i)

	case "priority":
		h.handlePriorityCommand(ctx, s, i)
	case "stats":
		h.handleStatsCommand(ctx, s, i)
	case "language":
		h.handleLanguageCommand(ctx, s, i)

	case "admin":
		h.handleAdminCommand(ctx, s, i)
	case "blacklist":
		h.handleBlacklistCommand(ctx, s, i)
	case "dashboard":
		h.handleDashboardCommand(ctx, s, i)

	default:
		h.log.Debug("unknown command", zap.String("command", name))
	}
}

func (h *Handler) handleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	switch {
	case customID == "menu_categoria":
		h.handleCategorySelect(s, i)
	case customID == "claim_ticket":
		h.handleClaimButton(ctx, s, i)
	case customID == "add_user":
		h.handleAddUserButton(s, i)
	case customID == "close_ticket":
		h.handleCloseButton(s, i)
	case strings.HasPrefix(customID, reopenPrefix):
		h.handleReopenButton(ctx, s, i, strings.TrimPrefix(customID, reopenPrefix))
	case strings.HasPrefix(customID, "survey_"):
		h.handleSurveyButton(ctx, s, i, customID)
	default:
		h.log.Debug("unknown component", zap.String("custom_id", customID))
	}
}

func (h *Handler) handleModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()

	switch {
	case strings.HasPrefix(data.CustomID, ticketModalPrefix):
		h.handleTicketModal(ctx, s, i, strings.TrimPrefix(data.CustomID, ticketModalPrefix))
	case data.CustomID == "add_user_modal":
		h.handleAddUserModal(ctx, s, i)
	case data.CustomID == "close_ticket_modal":
		h.handleCloseModal(ctx, s, i)
	default:
		h.log.Debug("unknown modal", zap.String("custom_id", data.CustomID))
	}
}

// modalValue returns the text submitted for the input named id.
func modalValue(data discordgo.ModalSubmitInteractionData, id string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if in, ok := rc.(*discordgo.TextInput); ok && in.CustomID == id {
				return strings.TrimSpace(in.Value)
			}
		}
	}
	return ""
}

func (h *Handler) locale(i *discordgo.InteractionCreate) lang.Locale {
	loc := lang.Locale{GuildID: i.GuildID}
	if u := interactionUser(i); u != nil {
		loc.UserID = u.ID
	}
	return loc
}

// t translates key for whoever triggered i.
func (h *Handler) t(i *discordgo.InteractionCreate, key string, pairs ...string) string {
	return h.text.Get(h.locale(i), key, pairs...)
}

// errorText turns a core error into a user message. Internal failures are
// logged and reported generically.
func (h *Handler) errorText(i *discordgo.InteractionCreate, op string, err error) string {
	kind := ticket.KindOf(err)
	if kind.UserFacing() {
		return h.t(i, "errors."+kind.String())
	}
	h.log.Error(op+" failed", zap.String("channel_id", i.ChannelID), zap.Error(err))
	return h.t(i, "errors.internal")
}

// persist writes a settings change back to the config file so it survives
// a restart.
func (h *Handler) persist(what string, fn func(*config.Config)) {
	if h.cfgPath == "" {
		return
	}
	if err := config.Update(h.cfgPath, fn); err != nil {
		h.log.Warn("saving config failed", zap.String("setting", what), zap.String("path", h.cfgPath), zap.Error(err))
	}
}

func (h *Handler) fail(s *discordgo.Session, i *discordgo.InteractionCreate, op string, err error) {
	respond(s, i, h.errorText(i, op, err), true)
}

func (h *Handler) failDeferred(s *discordgo.Session, i *discordgo.InteractionCreate, op string, err error) {
	editReply(s, i, h.errorText(i, op, err))
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		zap.L().Debug("interaction respond failed", zap.Error(err))
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func respondModal(s *discordgo.Session, i *discordgo.InteractionCreate, customID, title string, inputs ...discordgo.TextInput) {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{in}})
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      title,
			Components: rows,
		},
	})
}

// deferReply acknowledges i so slow work can finish with editReply.
func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
}

func editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, _ = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
}

func respondFile(s *discordgo.Session, i *discordgo.InteractionCreate, content, name string, data []byte) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
			Files:   []*discordgo.File{{Name: name, ContentType: "text/csv", Reader: bytes.NewReader(data)}},
		},
	})
}

func subcommand(i *discordgo.InteractionCreate) (string, []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return "", nil
	}
	return opts[0].Name, opts[0].Options
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	return subOptMap(i.ApplicationCommandData().Options)
}

func subOptMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func optStr(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key, def string) string {
	if o, ok := m[key]; ok {
		return o.StringValue()
	}
	return def
}

func optInt(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key string, def int64) int64 {
	if o, ok := m[key]; ok {
		return o.IntValue()
	}
	return def
}

func optBool(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key string, def bool) bool {
	if o, ok := m[key]; ok {
		return o.BoolValue()
	}
	return def
}

// optUserID reads a user option as a raw id so no session lookup is needed.
func optUserID(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key string) string {
	if o, ok := m[key]; ok {
		return fmt.Sprint(o.Value)
	}
	return ""
}
