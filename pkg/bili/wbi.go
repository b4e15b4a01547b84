package bili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	navEndpoint  = "https://api.bilibili.com/x/web-interface/nav"
	wbiKeyMaxAge = 30 * time.Minute
)

var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// wbiFilteredChars are stripped from parameter values before signing.
const wbiFilteredChars = "!'()*"

// WbiSigner computes the w_rid signature search endpoints require.
// Keys come from the nav endpoint and are cached for half an hour.
type WbiSigner struct {
	client *Client
	navURL string

	mu       sync.Mutex
	mixinKey string
	fetched  time.Time

	nowFunc func() time.Time
}

func NewWbiSigner(client *Client) *WbiSigner {
	return &WbiSigner{client: client, navURL: navEndpoint, nowFunc: time.Now}
}

type navWbiImg struct {
	WbiImg struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

func (s *WbiSigner) currentMixinKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if s.mixinKey != "" && now.Sub(s.fetched) < wbiKeyMaxAge {
		return s.mixinKey, nil
	}

	var nav navWbiImg
	if err := s.client.GetJSON(ctx, s.navURL, nil, &nav); err != nil {
		// The nav call reports "not logged in" through the envelope
		// code while still carrying usable keys; only hard transport
		// failures are fatal here.
		var upstream *UpstreamError
		if !errors.As(err, &upstream) || nav.WbiImg.ImgURL == "" {
			return "", fmt.Errorf("fetch wbi keys: %w", err)
		}
	}

	imgKey := keyFromURL(nav.WbiImg.ImgURL)
	subKey := keyFromURL(nav.WbiImg.SubURL)
	if imgKey == "" || subKey == "" {
		return "", fmt.Errorf("wbi keys missing from nav response")
	}

	s.mixinKey = mixMixinKey(imgKey + subKey)
	s.fetched = now
	return s.mixinKey, nil
}

func keyFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	base := path.Base(rawURL)
	return strings.TrimSuffix(base, path.Ext(base))
}

func mixMixinKey(orig string) string {
	var b strings.Builder
	for _, idx := range mixinKeyEncTab {
		if idx < len(orig) {
			b.WriteByte(orig[idx])
		}
	}
	mixed := b.String()
	if len(mixed) > 32 {
		mixed = mixed[:32]
	}
	return mixed
}

// Sign adds wts and w_rid to params and returns the signed copy.
func (s *WbiSigner) Sign(ctx context.Context, params url.Values) (url.Values, error) {
	mixinKey, err := s.currentMixinKey(ctx)
	if err != nil {
		return nil, err
	}
	return signWithKey(params, mixinKey, s.nowFunc()), nil
}

func signWithKey(params url.Values, mixinKey string, now time.Time) url.Values {
	signed := url.Values{}
	for key, values := range params {
		for _, value := range values {
			signed.Add(key, stripFilteredChars(value))
		}
	}
	signed.Set("wts", strconv.FormatInt(now.Unix(), 10))

	keys := make([]string, 0, len(signed))
	for key := range signed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var query strings.Builder
	for i, key := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(key))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(signed.Get(key)))
	}

	sum := md5.Sum([]byte(query.String() + mixinKey))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}

func stripFilteredChars(value string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(wbiFilteredChars, r) {
			return -1
		}
		return r
	}, value)
}
