package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/config"
	"github.com/chufeng/bilibot/pkg/logger"
	"github.com/chufeng/bilibot/pkg/utils"
)

type DiscordChannel struct {
	*BaseChannel
	config  config.DiscordConfig
	session *discordgo.Session
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	base := NewBaseChannel("discord", cfg, messageBus, cfg.AllowFrom)
	return &DiscordChannel{
		BaseChannel: base,
		config:      cfg,
		session:     session,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord channel")

	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessageCreate(s, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	c.setRunning(true)
	logger.InfoC("discord", "Discord channel started successfully")
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord channel")
	c.setRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	// GuildID is empty for direct messages.
	groupID := m.GuildID

	metadata := map[string]string{
		"message_id": m.ID,
	}
	if m.Author.Username != "" {
		metadata["username"] = m.Author.Username
	}

	logger.DebugCF("discord", "Forwarding message to bus", map[string]interface{}{
		"sender_id": m.Author.ID,
		"chat_id":   m.ChannelID,
		"content":   utils.Truncate(m.Content, 100),
	})

	c.HandleMessage(m.Author.ID, m.ChannelID, groupID, m.Content, m.Content, metadata)
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel not running")
	}

	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.ImageURL != "" {
		send.Embeds = []*discordgo.MessageEmbed{
			{Image: &discordgo.MessageEmbedImage{URL: msg.ImageURL}},
		}
	}

	if _, err := c.session.ChannelMessageSendComplex(msg.ChatID, send); err != nil {
		logger.ErrorCF("discord", "Failed to send message", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}
