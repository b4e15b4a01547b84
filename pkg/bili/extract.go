package bili

import (
	"regexp"
	"sort"
)

// CandidateKind tells the normalizer how a candidate was found.
type CandidateKind int

const (
	// KindURL is a full URL or bare token whose category is decidable
	// by pattern alone.
	KindURL CandidateKind = iota
	// KindShortLink must be resolved through an HTTP redirect before
	// its category is known.
	KindShortLink
	// KindMiniProgramCard is a URL mined out of a structured share-card
	// payload rather than plain text.
	KindMiniProgramCard
)

// Candidate is a transient raw match, produced by extraction and
// consumed immediately by normalization.
type Candidate struct {
	Text string
	Kind CandidateKind
}

var (
	shortLinkPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:b23\.tv|bili(?:22|23|33|2233)\.cn)/[0-9A-Za-z]+`)

	videoURLPattern   = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.|m\.)?bilibili\.com/video/(?:av\d+|BV[0-9A-Za-z]{10})(?:[?&][^\s]*)?`)
	bangumiURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.|m\.)?bilibili\.com/bangumi/(?:play/(?:ep|ss)\d+|media/md\d+)`)
	liveURLPattern    = regexp.MustCompile(`(?i)(?:https?://)?live\.bilibili\.com/\d+`)
	articleURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.|m\.)?bilibili\.com/read/(?:cv|mobile/)\d+`)
	feedURLPattern    = regexp.MustCompile(`(?i)(?:https?://)?(?:t\.bilibili\.com/\d+|(?:www\.|m\.)?bilibili\.com/opus/\d+|m\.bilibili\.com/dynamic/\d+)`)

	bareTokenPattern = regexp.MustCompile(`(?i)\b(?:av\d+|cv\d+|BV[0-9A-Za-z]{10})\b`)
)

var urlPatterns = []*regexp.Regexp{
	videoURLPattern,
	bangumiURLPattern,
	liveURLPattern,
	articleURLPattern,
	feedURLPattern,
	bareTokenPattern,
}

type span struct {
	start, end int
	kind       CandidateKind
}

// Extract scans plain message text for candidate substrings and returns
// them in left-to-right occurrence order. Unrecognizable text yields an
// empty slice; that is the expected common case, not an error.
func Extract(text string) []Candidate {
	if text == "" {
		return nil
	}

	var spans []span
	for _, loc := range shortLinkPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{start: loc[0], end: loc[1], kind: KindShortLink})
	}
	for _, p := range urlPatterns {
		for _, loc := range p.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], kind: KindURL})
		}
	}
	if len(spans) == 0 {
		return nil
	}

	// Earliest start wins; on ties the longer match wins, so a bare
	// "av170001" inside a full video URL never surfaces twice.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	candidates := make([]Candidate, 0, len(spans))
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		candidates = append(candidates, Candidate{Text: text[s.start:s.end], Kind: s.kind})
		lastEnd = s.end
	}
	return candidates
}

// ExtractPayload scans a full message payload: a share card embedded in
// the raw segment form takes precedence over plain-text matching, same
// as the upstream plugin behavior.
func ExtractPayload(text, raw string) []Candidate {
	if url := ExtractCardURL(raw); url != "" {
		return []Candidate{{Text: url, Kind: KindMiniProgramCard}}
	}
	if url := ExtractCardURL(text); url != "" {
		return []Candidate{{Text: url, Kind: KindMiniProgramCard}}
	}
	return Extract(text)
}
