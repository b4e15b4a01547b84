package bili

import (
	"context"
	"sync"

	"github.com/chufeng/bilibot/pkg/logger"
	"github.com/chufeng/bilibot/pkg/utils"
)

// Options is the resolved configuration slice the orchestrator consumes.
type Options struct {
	EnableAutoParse    bool
	EnableSearch       bool
	EnableImage        bool
	GroupWhitelistMode bool
	GroupList          []string
	DescLimit          int
}

// Payload is one inbound message: the visible text plus the raw
// platform payload (where share cards live) and the group it came from.
type Payload struct {
	Text    string
	Raw     string
	GroupID string
}

// GroupAllowed evaluates the allow/deny decision for a group. Empty
// list means no restriction; whitelist mode admits members only,
// blacklist mode admits non-members only. Non-group messages always
// pass.
func GroupAllowed(opts Options, groupID string) bool {
	if groupID == "" || len(opts.GroupList) == 0 {
		return true
	}
	member := false
	for _, g := range opts.GroupList {
		if g == groupID {
			member = true
			break
		}
	}
	if opts.GroupWhitelistMode {
		return member
	}
	return !member
}

// Resolver composes extraction, normalization, fetching and formatting
// into single calls.
type Resolver struct {
	normalizer *Normalizer
	fetcher    Fetcher
}

func NewResolver(normalizer *Normalizer, fetcher Fetcher) *Resolver {
	return &Resolver{normalizer: normalizer, fetcher: fetcher}
}

// ResolveMessage scans a message and returns one reply per resolved
// reference, in the order the references appear in the text. Identical
// references are fetched and answered once. Candidate failures yield a
// short error reply without affecting siblings.
func (r *Resolver) ResolveMessage(ctx context.Context, payload Payload, opts Options) []Reply {
	if !opts.EnableAutoParse {
		return nil
	}
	if !GroupAllowed(opts, payload.GroupID) {
		return nil
	}

	candidates := ExtractPayload(payload.Text, payload.Raw)
	if len(candidates) == 0 {
		return nil
	}

	type normResult struct {
		ref ContentRef
		err error
	}
	normed := make([]normResult, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			ref, err := r.normalizer.Normalize(ctx, c)
			normed[i] = normResult{ref: ref, err: err}
		}(i, c)
	}
	wg.Wait()

	// First occurrence of each ref wins; later duplicates are dropped
	// before any fetch happens.
	firstOf := make(map[string]int)
	var unique []ContentRef
	for i, nr := range normed {
		if nr.err != nil {
			continue
		}
		key := nr.ref.Key()
		if _, seen := firstOf[key]; seen {
			continue
		}
		firstOf[key] = i
		unique = append(unique, nr.ref)
	}

	fetched := make(map[string]Reply, len(unique))
	var mu sync.Mutex
	for _, ref := range unique {
		wg.Add(1)
		go func(ref ContentRef) {
			defer wg.Done()
			reply := r.resolveOne(ctx, ref, opts)
			mu.Lock()
			fetched[ref.Key()] = reply
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	var replies []Reply
	for i, nr := range normed {
		if nr.err != nil {
			logger.DebugCF("bili", "Candidate skipped", map[string]interface{}{
				"text":  candidates[i].Text,
				"error": nr.err.Error(),
			})
			replies = append(replies, Reply{Text: UserMessage(nr.err)})
			continue
		}
		if firstOf[nr.ref.Key()] != i {
			continue
		}
		replies = append(replies, fetched[nr.ref.Key()])
	}
	return replies
}

func (r *Resolver) resolveOne(ctx context.Context, ref ContentRef, opts Options) Reply {
	meta, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return Reply{Text: UserMessage(err)}
	}
	if opts.DescLimit > 0 {
		meta.Desc = utils.Truncate(meta.Desc, opts.DescLimit)
	}
	return Format(ref, meta, opts.EnableImage)
}

// ResolveSearch runs the keyword-search command: first hit, then the
// same fetch/format tail as link resolution. A miss is a plain
// no-results reply, not an error.
func (r *Resolver) ResolveSearch(ctx context.Context, keyword string, opts Options) Reply {
	if !opts.EnableSearch {
		return Reply{}
	}
	ref, err := r.fetcher.Search(ctx, keyword)
	if err != nil {
		return Reply{Text: UserMessage(err)}
	}
	return r.resolveOne(ctx, ref, opts)
}
