package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/chufeng/bilibot/pkg/bili"
	"github.com/chufeng/bilibot/pkg/bus"
	"github.com/chufeng/bilibot/pkg/config"
)

type stubFetcher struct {
	meta      bili.Metadata
	searchRef bili.ContentRef
	searchErr error
	keywords  []string
}

func (f *stubFetcher) Fetch(ctx context.Context, ref bili.ContentRef) (bili.Metadata, error) {
	meta := f.meta
	meta.Category = ref.Category
	meta.ID = ref.ID
	return meta, nil
}

func (f *stubFetcher) Search(ctx context.Context, keyword string) (bili.ContentRef, error) {
	f.keywords = append(f.keywords, keyword)
	if f.searchErr != nil {
		return bili.ContentRef{}, f.searchErr
	}
	return f.searchRef, nil
}

func newTestLoop(fetcher *stubFetcher) (*Loop, *bus.MessageBus) {
	cfg := config.DefaultConfig()
	messageBus := bus.NewMessageBus()
	resolver := bili.NewResolver(bili.NewNormalizer(nil), fetcher)
	return NewLoop(cfg, messageBus, resolver), messageBus
}

func consumeReply(t *testing.T, messageBus *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := messageBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound reply published")
	}
	return msg
}

func TestHandleInbound_ResolvesLinkToSameChat(t *testing.T) {
	fetcher := &stubFetcher{meta: bili.Metadata{Title: "视频标题", URL: "https://www.bilibili.com/video/BV1xx411c7mD"}}
	loop, messageBus := newTestLoop(fetcher)

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "onebot",
		ChatID:  "group:123",
		GroupID: "123",
		Content: "看看 https://www.bilibili.com/video/BV1xx411c7mD",
	})

	reply := consumeReply(t, messageBus)
	if reply.Channel != "onebot" || reply.ChatID != "group:123" {
		t.Fatalf("reply routed to %s/%s, want onebot/group:123", reply.Channel, reply.ChatID)
	}
	if reply.Content == "" {
		t.Fatal("reply content is empty")
	}
}

func TestHandleInbound_NoLinksNoReply(t *testing.T) {
	loop, messageBus := newTestLoop(&stubFetcher{})

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "onebot",
		ChatID:  "group:123",
		Content: "大家早上好",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, ok := messageBus.SubscribeOutbound(ctx); ok {
		t.Fatalf("unexpected reply: %+v", msg)
	}
}

func TestHandleInbound_SearchCommand(t *testing.T) {
	fetcher := &stubFetcher{
		meta:      bili.Metadata{Title: "搜索结果", URL: "https://www.bilibili.com/video/BV17x411w7KC"},
		searchRef: bili.VideoRef("BV17x411w7KC", 0),
	}
	loop, messageBus := newTestLoop(fetcher)

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "telegram",
		ChatID:  "456",
		Content: "/搜视频 宝剑嫂",
	})

	reply := consumeReply(t, messageBus)
	if reply.ChatID != "456" {
		t.Fatalf("reply chat = %q, want %q", reply.ChatID, "456")
	}
	if len(fetcher.keywords) != 1 || fetcher.keywords[0] != "宝剑嫂" {
		t.Fatalf("search keywords = %v, want [宝剑嫂]", fetcher.keywords)
	}
}

func TestHandleInbound_SearchCommandWithoutKeyword(t *testing.T) {
	loop, messageBus := newTestLoop(&stubFetcher{})

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "onebot",
		ChatID:  "private:1",
		Content: "/搜视频",
	})

	reply := consumeReply(t, messageBus)
	if reply.Content != searchUsageReply {
		t.Fatalf("reply = %q, want %q", reply.Content, searchUsageReply)
	}
}

func TestHandleInbound_SearchNoResults(t *testing.T) {
	fetcher := &stubFetcher{searchErr: bili.ErrNoResults}
	loop, messageBus := newTestLoop(fetcher)

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "onebot",
		ChatID:  "private:1",
		Content: "/搜视频 不存在的关键词",
	})

	reply := consumeReply(t, messageBus)
	if reply.Content != "未找到相关视频" {
		t.Fatalf("reply = %q, want %q", reply.Content, "未找到相关视频")
	}
}

func TestHandleInbound_SearchDisabled(t *testing.T) {
	fetcher := &stubFetcher{searchRef: bili.VideoRef("BV17x411w7KC", 0)}
	loop, messageBus := newTestLoop(fetcher)
	loop.cfg.Resolver.EnableSearch = false

	loop.handleInbound(context.Background(), bus.InboundMessage{
		Channel: "onebot",
		ChatID:  "private:1",
		Content: "/搜视频 宝剑嫂",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, ok := messageBus.SubscribeOutbound(ctx); ok {
		t.Fatalf("unexpected reply: %+v", msg)
	}
	if len(fetcher.keywords) != 0 {
		t.Fatalf("search called %d times, want 0", len(fetcher.keywords))
	}
}

func TestParseSearchCommand(t *testing.T) {
	tests := []struct {
		text    string
		keyword string
		ok      bool
	}{
		{"/搜视频 天气之子", "天气之子", true},
		{"  /搜视频  天气之子  ", "天气之子", true},
		{"/搜视频", "", true},
		{"/搜视频abc", "", false},
		{"搜视频 天气之子", "", false},
		{"随便聊聊", "", false},
	}
	for _, tt := range tests {
		keyword, ok := parseSearchCommand(tt.text)
		if keyword != tt.keyword || ok != tt.ok {
			t.Errorf("parseSearchCommand(%q) = (%q, %v), want (%q, %v)", tt.text, keyword, ok, tt.keyword, tt.ok)
		}
	}
}
