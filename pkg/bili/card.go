package bili

import (
	"encoding/json"
	"regexp"
	"strings"
)

// QQ mini-program share cards arrive in several shapes: a parsed JSON
// card object, an OneBot segment list wrapping the card JSON as a
// string, or a CQ:json code with HTML-entity escaping. All of them bury
// the real target under meta.<any>.qqdocurl (or url).

var cqJSONPattern = regexp.MustCompile(`(?s)\[CQ:json,data=(.*?)\]`)

var cqUnescaper = strings.NewReplacer(
	"&#44;", ",",
	"&#91;", "[",
	"&#93;", "]",
	"&amp;", "&",
)

// ExtractCardURL digs a bilibili target URL out of a share-card payload.
// Returns "" when the payload holds no recognizable card.
func ExtractCardURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			if url := cardURLFromObject(obj); url != "" {
				return url
			}
		}
	}

	if strings.HasPrefix(raw, "[") {
		var segments []map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &segments); err == nil {
			for _, seg := range segments {
				if url := cardURLFromSegment(seg); url != "" {
					return url
				}
			}
		}
	}

	if m := cqJSONPattern.FindStringSubmatch(raw); m != nil {
		data := cqUnescaper.Replace(m[1])
		if url := cardURLFromJSON(data); url != "" {
			return url
		}
	}

	return ""
}

func cardURLFromJSON(data string) string {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return ""
	}
	return cardURLFromObject(obj)
}

func cardURLFromObject(obj map[string]interface{}) string {
	if url := cardURLFromMeta(obj); url != "" {
		return url
	}
	// Single OneBot segment: {"type":"json","data":{"data":"{...}"}}
	return cardURLFromSegment(obj)
}

func cardURLFromSegment(seg map[string]interface{}) string {
	if t, _ := seg["type"].(string); t != "json" {
		return ""
	}
	switch inner := seg["data"].(type) {
	case map[string]interface{}:
		if s, ok := inner["data"].(string); ok {
			return cardURLFromJSON(s)
		}
	case string:
		return cardURLFromJSON(inner)
	}
	return ""
}

func cardURLFromMeta(obj map[string]interface{}) string {
	meta, ok := obj["meta"].(map[string]interface{})
	if !ok {
		return ""
	}
	for _, v := range meta {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := entry["qqdocurl"].(string)
		if url == "" {
			url, _ = entry["url"].(string)
		}
		if url != "" && isBiliURL(url) {
			return url
		}
	}
	return ""
}

func isBiliURL(url string) bool {
	lowered := strings.ToLower(url)
	return strings.Contains(lowered, "bilibili") ||
		strings.Contains(lowered, "b23.tv") ||
		strings.Contains(lowered, "bili")
}
