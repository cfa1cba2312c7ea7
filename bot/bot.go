package bot

import (
	"context"
	"fmt"

	"support-bot/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// intents covers guild metadata, members (for staff pings) and the
// message history transcripts are built from.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

type Bot struct {
	Session *discordgo.Session
	Config  *config.Config
	log     *zap.Logger
	ready   chan struct{}
}

func New(cfg *config.Config, log *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = intents
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		Session: s,
		Config:  cfg,
		log:     log.Named("bot"),
		ready:   make(chan struct{}),
	}, nil
}

func (b *Bot) Start() error {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("bot is online",
			zap.String("user", r.User.Username),
			zap.Int("guilds", len(r.Guilds)),
		)
		select {
		case <-b.ready:
		default:
			close(b.ready)
		}
	})
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (b *Bot) Stop() {
	if err := b.Session.Close(); err != nil {
		b.log.Warn("closing session failed", zap.Error(err))
	}
}

// waitReady blocks until the first Ready event or ctx is done.
func (b *Bot) waitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) RegisterCommands(ctx context.Context, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	if err := b.waitReady(ctx); err != nil {
		return nil, fmt.Errorf("waiting for ready: %w", err)
	}

	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID

	b.log.Info("registering commands",
		zap.Int("count", len(cmds)),
		zap.String("app_id", appID),
		zap.String("guild_id", guildID),
	)

	registered, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, cmds, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk-overwrite commands: %w", err)
	}

	b.log.Info("slash commands registered", zap.Int("count", len(registered)))
	return registered, nil
}

func (b *Bot) CleanupCommands(ctx context.Context) {
	if err := b.waitReady(ctx); err != nil {
		return
	}
	appID := b.Session.State.User.ID
	guildID := b.Config.Discord.GuildID
	if _, err := b.Session.ApplicationCommandBulkOverwrite(appID, guildID, []*discordgo.ApplicationCommand{}, discordgo.WithContext(ctx)); err != nil {
		b.log.Warn("failed to clean up commands", zap.Error(err))
		return
	}
	b.log.Info("cleaned up all slash commands")
}
