package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/chufeng/bilibot/pkg/bili"
	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/config"
	"github.com/chufeng/bilibot/pkg/logger"
)

const searchCommand = "/搜视频"

const searchUsageReply = "用法：/搜视频 <关键词>"

// Loop consumes inbound chat messages, resolves the bilibili references
// they carry and publishes one reply per resolved reference back to the
// originating channel.
type Loop struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	resolver *bili.Resolver
}

func NewLoop(cfg *config.Config, messageBus *bus.MessageBus, resolver *bili.Resolver) *Loop {
	return &Loop{
		cfg:      cfg,
		bus:      messageBus,
		resolver: resolver,
	}
}

// Run blocks until ctx is cancelled. Each inbound message is handled on
// its own goroutine so a slow upstream fetch never stalls the queue.
func (l *Loop) Run(ctx context.Context) error {
	logger.InfoC("resolve", "Resolver loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("resolve", "Resolver loop stopped")
			return ctx.Err()
		}
		go l.handleInbound(ctx, msg)
	}
}

func (l *Loop) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	opts := l.options()

	timeout := time.Duration(l.cfg.Resolver.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if keyword, ok := parseSearchCommand(msg.Content); ok {
		l.handleSearch(ctx, msg, keyword, opts)
		return
	}

	payload := bili.Payload{
		Text:    msg.Content,
		Raw:     msg.RawContent,
		GroupID: msg.GroupID,
	}
	replies := l.resolver.ResolveMessage(ctx, payload, opts)
	for _, reply := range replies {
		l.publish(msg, reply)
	}
}

func (l *Loop) handleSearch(ctx context.Context, msg bus.InboundMessage, keyword string, opts bili.Options) {
	if !opts.EnableSearch {
		return
	}
	if !bili.GroupAllowed(opts, msg.GroupID) {
		return
	}
	if keyword == "" {
		l.publish(msg, bili.Reply{Text: searchUsageReply})
		return
	}

	logger.InfoCF("resolve", "Search command", map[string]interface{}{
		"keyword": keyword,
		"channel": msg.Channel,
	})
	l.publish(msg, l.resolver.ResolveSearch(ctx, keyword, opts))
}

func (l *Loop) publish(in bus.InboundMessage, reply bili.Reply) {
	if reply.Text == "" && reply.ImageURL == "" {
		return
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:  in.Channel,
		ChatID:   in.ChatID,
		Content:  reply.Text,
		ImageURL: reply.ImageURL,
	})
}

func (l *Loop) options() bili.Options {
	return OptionsFromConfig(l.cfg.Resolver)
}

// OptionsFromConfig maps the resolver config section onto the options
// the orchestrator consumes.
func OptionsFromConfig(rc config.ResolverConfig) bili.Options {
	return bili.Options{
		EnableAutoParse:    rc.EnableAutoParse,
		EnableSearch:       rc.EnableSearch,
		EnableImage:        rc.EnableImage,
		GroupWhitelistMode: rc.GroupWhitelistMode,
		GroupList:          rc.GroupList,
		DescLimit:          rc.DescLimit,
	}
}

// parseSearchCommand reports whether text is the video search command
// and, if so, the keyword that follows it.
func parseSearchCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, searchCommand) {
		return "", false
	}
	rest := trimmed[len(searchCommand):]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
