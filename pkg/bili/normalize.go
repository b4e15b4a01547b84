package bili

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/chufeng/bilibot/pkg/logger"
)

var (
	videoTokenPattern   = regexp.MustCompile(`(?i)/video/(av\d+|BV[0-9A-Za-z]{10})`)
	bangumiTokenPattern = regexp.MustCompile(`(?i)/bangumi/(?:play/((?:ep|ss)\d+)|media/(md\d+))`)
	liveTokenPattern    = regexp.MustCompile(`(?i)live\.bilibili\.com/(\d+)`)
	articleTokenPattern = regexp.MustCompile(`(?i)/read/(?:cv(\d+)|mobile/(\d+))`)
	feedTokenPattern    = regexp.MustCompile(`(?i)(?:t\.bilibili\.com/(\d+)|/opus/(\d+)|/dynamic/(\d+))`)

	bareVideoPattern   = regexp.MustCompile(`(?i)^(av\d+|BV[0-9A-Za-z]{10})$`)
	bareArticlePattern = regexp.MustCompile(`(?i)^cv(\d+)$`)

	pageQueryPattern = regexp.MustCompile(`(?i)[?&]p=(\d+)`)
)

// ShortResolver follows a short-link redirect to its destination URL.
type ShortResolver interface {
	Resolve(ctx context.Context, shortURL string) (string, error)
}

// Normalizer converts raw candidates into canonical ContentRefs,
// resolving short links through the injected resolver.
type Normalizer struct {
	shorts ShortResolver
}

func NewNormalizer(shorts ShortResolver) *Normalizer {
	return &Normalizer{shorts: shorts}
}

// Normalize maps one candidate to a ContentRef. Failures are scoped to
// the candidate and reported as ErrUnresolvedLink (optionally wrapping
// the underlying cause).
func (n *Normalizer) Normalize(ctx context.Context, c Candidate) (ContentRef, error) {
	text := strings.TrimSpace(c.Text)

	if c.Kind == KindShortLink || shortLinkPattern.MatchString(text) {
		if n.shorts == nil {
			return ContentRef{}, fmt.Errorf("short link %q: %w", text, ErrUnresolvedLink)
		}
		dest, err := n.shorts.Resolve(ctx, ensureScheme(text))
		if err != nil {
			logger.WarnCF("bili", "Short link resolution failed", map[string]interface{}{
				"short": text,
				"error": err.Error(),
			})
			return ContentRef{}, fmt.Errorf("short link %q: %w", text, ErrUnresolvedLink)
		}
		text = dest
	}

	return normalizeURL(text)
}

func normalizeURL(text string) (ContentRef, error) {
	if m := videoTokenPattern.FindStringSubmatch(text); m != nil {
		return ContentRef{Category: CategoryVideo, ID: canonVideoToken(m[1]), Page: pageOf(text)}, nil
	}
	if m := bangumiTokenPattern.FindStringSubmatch(text); m != nil {
		token := m[1]
		if token == "" {
			token = m[2]
		}
		return ContentRef{Category: CategoryBangumi, ID: strings.ToLower(token)}, nil
	}
	if m := liveTokenPattern.FindStringSubmatch(text); m != nil {
		return ContentRef{Category: CategoryLive, ID: m[1]}, nil
	}
	if m := articleTokenPattern.FindStringSubmatch(text); m != nil {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		return ContentRef{Category: CategoryArticle, ID: id}, nil
	}
	if m := feedTokenPattern.FindStringSubmatch(text); m != nil {
		for _, id := range m[1:] {
			if id != "" {
				return ContentRef{Category: CategoryFeed, ID: id}, nil
			}
		}
	}
	if m := bareVideoPattern.FindStringSubmatch(text); m != nil {
		return ContentRef{Category: CategoryVideo, ID: canonVideoToken(m[1])}, nil
	}
	if m := bareArticlePattern.FindStringSubmatch(text); m != nil {
		return ContentRef{Category: CategoryArticle, ID: m[1]}, nil
	}

	return ContentRef{}, fmt.Errorf("no category for %q: %w", text, ErrUnresolvedLink)
}

// canonVideoToken fixes the prefix casing the patterns accept loosely:
// "AV170001" -> "av170001", "bv1xx..." -> "BV1xx...".
func canonVideoToken(token string) string {
	lowered := strings.ToLower(token)
	if strings.HasPrefix(lowered, "av") {
		return "av" + token[2:]
	}
	return "BV" + token[2:]
}

func pageOf(text string) int {
	m := pageQueryPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	p, err := strconv.Atoi(m[1])
	if err != nil || p < 1 {
		return 0
	}
	return p
}

func ensureScheme(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return "https://" + link
}

// maxRedirectHops bounds the redirect chase for short links; anything
// deeper is treated as unresolvable.
const maxRedirectHops = 5

// HTTPShortResolver chases redirects hop by hop without reading bodies.
type HTTPShortResolver struct {
	client *http.Client
}

func NewHTTPShortResolver(client *http.Client) *HTTPShortResolver {
	return &HTTPShortResolver{client: client}
}

func (r *HTTPShortResolver) Resolve(ctx context.Context, shortURL string) (string, error) {
	current := shortURL
	for hop := 0; hop < maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", browserUserAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return "", err
		}
		resp.Body.Close()

		if resp.StatusCode < 300 || resp.StatusCode > 399 {
			return current, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("redirect without location from %s", current)
		}
		next, err := url.Parse(location)
		if err != nil {
			return "", err
		}
		base, err := url.Parse(current)
		if err != nil {
			return "", err
		}
		current = base.ResolveReference(next).String()
	}
	return "", fmt.Errorf("redirect chain longer than %d hops", maxRedirectHops)
}
