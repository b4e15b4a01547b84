package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// dedupeCleanThreshold is the number of cached message IDs that triggers
// a lazy cleanup pass inside HandleMessage.
const dedupeCleanThreshold = 500

// dedupeExpiry is how long a message ID is kept in the dedup cache.
const dedupeExpiry = 10 * time.Minute

type BaseChannel struct {
	config       any
	bus          *bus.MessageBus
	running      bool
	name         string
	allowList    []string
	recentMsgIDs sync.Map // message_id -> time.Time
	dedupeCount  atomic.Int64
}

func NewBaseChannel(name string, config any, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		config:    config,
		bus:       bus,
		name:      name,
		allowList: allowList,
		running:   false,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if senderID == allowed || senderID == trimmed {
			return true
		}
	}

	return false
}

func (c *BaseChannel) HandleMessage(senderID, chatID, groupID, content, rawContent string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}

	if c.shouldSkipDuplicate(metadata) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		GroupID:    groupID,
		Content:    content,
		RawContent: rawContent,
		Metadata:   metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}

// shouldSkipDuplicate deduplicates inbound messages by message_id.
func (c *BaseChannel) shouldSkipDuplicate(metadata map[string]string) bool {
	if len(metadata) == 0 {
		return false
	}

	msgID := metadata["message_id"]
	if msgID == "" {
		return false
	}

	key := c.name + ":" + msgID
	now := time.Now()
	if prev, loaded := c.recentMsgIDs.LoadOrStore(key, now); loaded {
		seenAt, ok := prev.(time.Time)
		if ok && now.Sub(seenAt) < dedupeExpiry {
			logger.DebugCF("channels", "Duplicate message skipped", map[string]interface{}{
				"channel":    c.name,
				"message_id": msgID,
			})
			return true
		}
		c.recentMsgIDs.Store(key, now)
		return false
	}

	if c.dedupeCount.Add(1) >= dedupeCleanThreshold {
		c.dedupeCount.Store(0)
		c.cleanExpiredMsgIDs(now)
	}
	return false
}

func (c *BaseChannel) cleanExpiredMsgIDs(now time.Time) {
	c.recentMsgIDs.Range(func(key, value any) bool {
		if seenAt, ok := value.(time.Time); !ok || now.Sub(seenAt) >= dedupeExpiry {
			c.recentMsgIDs.Delete(key)
		}
		return true
	})
}
