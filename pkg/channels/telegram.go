package channels

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/config"
	"github.com/chufeng/bilibot/pkg/logger"
	"github.com/chufeng/bilibot/pkg/utils"
)

type TelegramChannel struct {
	*BaseChannel
	config config.TelegramConfig
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	base := NewBaseChannel("telegram", cfg, messageBus, cfg.AllowFrom)
	return &TelegramChannel{
		BaseChannel: base,
		config:      cfg,
		bot:         bot,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoCF("telegram", "Starting Telegram channel", map[string]interface{}{
		"bot": c.bot.Self.UserName,
	})

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateConfig)

	go func() {
		for {
			select {
			case <-pollCtx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				c.handleUpdate(update.Message)
			}
		}
	}()

	c.setRunning(true)
	logger.InfoC("telegram", "Telegram channel started successfully")
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram channel")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *TelegramChannel) handleUpdate(msg *tgbotapi.Message) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	groupID := ""
	if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
		groupID = chatID
	}

	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
	}
	if msg.From.UserName != "" {
		metadata["username"] = msg.From.UserName
	}

	logger.DebugCF("telegram", "Forwarding message to bus", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatID,
		"content":   utils.Truncate(text, 100),
	})

	c.HandleMessage(senderID, chatID, groupID, text, text, metadata)
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram channel not running")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chatID for Telegram: %s", msg.ChatID)
	}

	if msg.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(msg.ImageURL))
		photo.Caption = msg.Content
		if _, err := c.bot.Send(photo); err == nil {
			return nil
		}
		// Cover delivery is best effort; fall back to plain text.
		logger.WarnCF("telegram", "Photo send failed, falling back to text", map[string]interface{}{
			"chat_id": msg.ChatID,
		})
	}

	message := tgbotapi.NewMessage(chatID, msg.Content)
	if _, err := c.bot.Send(message); err != nil {
		logger.ErrorCF("telegram", "Failed to send message", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}
