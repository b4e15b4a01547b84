package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/config"
	"github.com/chufeng/bilibot/pkg/logger"
	"github.com/chufeng/bilibot/pkg/utils"
)

type OneBotChannel struct {
	*BaseChannel
	config      config.OneBotConfig
	conn        *websocket.Conn
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	writeMu     sync.Mutex
	echoCounter int64
}

type oneBotRawEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	SubType       string          `json:"sub_type"`
	MessageID     json.RawMessage `json:"message_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	Sender        json.RawMessage `json:"sender"`
	SelfID        json.RawMessage `json:"self_id"`
	Time          json.RawMessage `json:"time"`
	MetaEventType string          `json:"meta_event_type"`
	Echo          string          `json:"echo"`
}

type oneBotSender struct {
	UserID   json.RawMessage `json:"user_id"`
	Nickname string          `json:"nickname"`
	Card     string          `json:"card"`
}

type oneBotAPIRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo,omitempty"`
}

type oneBotSendPrivateMsgParams struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

type oneBotSendGroupMsgParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

func NewOneBotChannel(cfg config.OneBotConfig, messageBus *bus.MessageBus) (*OneBotChannel, error) {
	base := NewBaseChannel("onebot", cfg, messageBus, cfg.AllowFrom)

	return &OneBotChannel{
		BaseChannel: base,
		config:      cfg,
	}, nil
}

func (c *OneBotChannel) Start(ctx context.Context) error {
	if c.config.WSUrl == "" {
		return fmt.Errorf("OneBot ws_url not configured")
	}

	logger.InfoCF("onebot", "Starting OneBot channel", map[string]interface{}{
		"ws_url": c.config.WSUrl,
	})

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		logger.WarnCF("onebot", "Initial connection failed, will retry in background", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		go c.listen()
	}

	if c.config.ReconnectInterval > 0 {
		go c.reconnectLoop()
	} else {
		if c.conn == nil {
			return fmt.Errorf("failed to connect to OneBot and reconnect is disabled")
		}
	}

	c.setRunning(true)
	logger.InfoC("onebot", "OneBot channel started successfully")

	return nil
}

func (c *OneBotChannel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := make(map[string][]string)
	if c.config.AccessToken != "" {
		header["Authorization"] = []string{"Bearer " + c.config.AccessToken}
	}

	conn, _, err := dialer.Dial(c.config.WSUrl, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	logger.InfoC("onebot", "WebSocket connected")
	return nil
}

func (c *OneBotChannel) reconnectLoop() {
	interval := time.Duration(c.config.ReconnectInterval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				logger.InfoC("onebot", "Attempting to reconnect...")
				if err := c.connect(); err != nil {
					logger.ErrorCF("onebot", "Reconnect failed", map[string]interface{}{
						"error": err.Error(),
					})
				} else {
					go c.listen()
				}
			}
		}
	}
}

func (c *OneBotChannel) Stop(ctx context.Context) error {
	logger.InfoC("onebot", "Stopping OneBot channel")
	c.setRunning(false)

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	return nil
}

func (c *OneBotChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("OneBot channel not running")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("OneBot WebSocket not connected")
	}

	action, params, err := c.buildSendRequest(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.echoCounter++
	echo := fmt.Sprintf("send_%d", c.echoCounter)
	c.writeMu.Unlock()

	req := oneBotAPIRequest{
		Action: action,
		Params: params,
		Echo:   echo,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal OneBot request: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		logger.ErrorCF("onebot", "Failed to send message", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	return nil
}

// buildOneBotReply renders a reply as a CQ message string: the summary
// text plus an image code when a cover is attached.
func buildOneBotReply(msg bus.OutboundMessage) string {
	if msg.ImageURL == "" {
		return msg.Content
	}
	if msg.Content == "" {
		return fmt.Sprintf("[CQ:image,file=%s]", msg.ImageURL)
	}
	return fmt.Sprintf("%s\n[CQ:image,file=%s]", msg.Content, msg.ImageURL)
}

func (c *OneBotChannel) buildSendRequest(msg bus.OutboundMessage) (string, interface{}, error) {
	chatID := msg.ChatID
	message := buildOneBotReply(msg)

	if strings.HasPrefix(chatID, "group:") {
		groupID, err := strconv.ParseInt(chatID[len("group:"):], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid group ID in chatID: %s", chatID)
		}
		return "send_group_msg", oneBotSendGroupMsgParams{
			GroupID: groupID,
			Message: message,
		}, nil
	}

	if strings.HasPrefix(chatID, "private:") {
		userID, err := strconv.ParseInt(chatID[len("private:"):], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid user ID in chatID: %s", chatID)
		}
		return "send_private_msg", oneBotSendPrivateMsgParams{
			UserID:  userID,
			Message: message,
		}, nil
	}

	userID, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid chatID for OneBot: %s", chatID)
	}

	return "send_private_msg", oneBotSendPrivateMsgParams{
		UserID:  userID,
		Message: message,
	}, nil
}

func (c *OneBotChannel) listen() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				logger.WarnC("onebot", "WebSocket connection is nil, listener exiting")
				return
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.ErrorCF("onebot", "WebSocket read error", map[string]interface{}{
					"error": err.Error(),
				})
				c.mu.Lock()
				if c.conn != nil {
					c.conn.Close()
					c.conn = nil
				}
				c.mu.Unlock()
				return
			}

			var raw oneBotRawEvent
			if err := json.Unmarshal(message, &raw); err != nil {
				logger.WarnCF("onebot", "Failed to unmarshal raw event", map[string]interface{}{
					"error":   err.Error(),
					"payload": string(message),
				})
				continue
			}

			if raw.Echo != "" {
				logger.DebugCF("onebot", "Received API response, skipping", map[string]interface{}{
					"echo": raw.Echo,
				})
				continue
			}

			rawCopy := raw
			go c.handleRawEvent(&rawCopy)
		}
	}
}

func (c *OneBotChannel) handleRawEvent(raw *oneBotRawEvent) {
	switch raw.PostType {
	case "message":
		c.handleMessageEvent(raw)
	case "meta_event":
		c.handleMetaEvent(raw)
	case "notice", "request":
		logger.DebugCF("onebot", "Event ignored", map[string]interface{}{
			"post_type": raw.PostType,
			"sub_type":  raw.SubType,
		})
	default:
		logger.DebugCF("onebot", "Unknown post_type", map[string]interface{}{
			"post_type": raw.PostType,
		})
	}
}

func (c *OneBotChannel) handleMetaEvent(raw *oneBotRawEvent) {
	switch raw.MetaEventType {
	case "lifecycle":
		logger.InfoCF("onebot", "Lifecycle event", map[string]interface{}{
			"sub_type": raw.SubType,
		})
	case "heartbeat":
		logger.DebugC("onebot", "Heartbeat received")
	default:
		logger.DebugCF("onebot", "Unknown meta_event_type", map[string]interface{}{
			"meta_event_type": raw.MetaEventType,
		})
	}
}

func (c *OneBotChannel) handleMessageEvent(raw *oneBotRawEvent) {
	userID, err := parseJSONInt64(raw.UserID)
	if err != nil {
		logger.WarnCF("onebot", "Failed to parse user_id", map[string]interface{}{
			"error": err.Error(),
			"raw":   string(raw.UserID),
		})
		return
	}

	groupID, _ := parseJSONInt64(raw.GroupID)
	messageID := parseJSONString(raw.MessageID)

	content := parseMessageText(raw.Message, raw.RawMessage)
	rawContent := rawPayloadContent(raw.Message, raw.RawMessage)
	if content == "" && rawContent == "" {
		return
	}

	senderID := strconv.FormatInt(userID, 10)

	var chatID, groupIDStr string
	metadata := map[string]string{"message_id": messageID}

	switch raw.MessageType {
	case "private":
		chatID = "private:" + senderID
	case "group":
		groupIDStr = strconv.FormatInt(groupID, 10)
		chatID = "group:" + groupIDStr
		metadata["group_id"] = groupIDStr
	default:
		logger.WarnCF("onebot", "Unknown message type, cannot route", map[string]interface{}{
			"type":       raw.MessageType,
			"message_id": messageID,
		})
		return
	}

	if len(raw.Sender) > 0 {
		var sender oneBotSender
		if err := json.Unmarshal(raw.Sender, &sender); err == nil && sender.Nickname != "" {
			metadata["nickname"] = sender.Nickname
		}
	}

	logger.DebugCF("onebot", "Forwarding message to bus", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatID,
		"content":   utils.Truncate(content, 100),
	})

	c.HandleMessage(senderID, chatID, groupIDStr, content, rawContent, metadata)
}

func parseJSONInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("cannot parse as int64: %s", string(raw))
}

func parseJSONString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

// parseMessageText flattens an event's message field to plain text. The
// field is either a CQ-coded string or an OneBot segment array; only
// text segments contribute.
func parseMessageText(raw json.RawMessage, rawMessage string) string {
	if len(raw) == 0 {
		return strings.TrimSpace(rawMessage)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(stripCQCodes(s))
	}

	var segments []map[string]interface{}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var text strings.Builder
		for _, seg := range segments {
			segType, _ := seg["type"].(string)
			if segType != "text" {
				continue
			}
			data, _ := seg["data"].(map[string]interface{})
			if data == nil {
				continue
			}
			if t, ok := data["text"].(string); ok {
				text.WriteString(t)
			}
		}
		return strings.TrimSpace(text.String())
	}

	return strings.TrimSpace(rawMessage)
}

// rawPayloadContent picks the payload form that keeps share cards
// intact: the segment-array JSON when the event carries one, the CQ
// string otherwise.
func rawPayloadContent(raw json.RawMessage, rawMessage string) string {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	if rawMessage != "" {
		return rawMessage
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

var cqCodeReplacer = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")

// stripCQCodes removes CQ codes from a message string, leaving the
// plain text between them.
func stripCQCodes(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "[CQ:")
		if start < 0 {
			b.WriteString(content)
			break
		}
		b.WriteString(content[:start])
		end := strings.Index(content[start:], "]")
		if end < 0 {
			break
		}
		content = content[start+end+1:]
	}
	return cqCodeReplacer.Replace(b.String())
}
