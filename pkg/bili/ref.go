package bili

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is the closed set of content kinds the resolver understands.
type Category int

const (
	CategoryVideo Category = iota
	CategoryBangumi
	CategoryLive
	CategoryArticle
	CategoryFeed
)

func (c Category) String() string {
	switch c {
	case CategoryVideo:
		return "video"
	case CategoryBangumi:
		return "bangumi"
	case CategoryLive:
		return "live"
	case CategoryArticle:
		return "article"
	case CategoryFeed:
		return "feed"
	default:
		return "unknown"
	}
}

// ContentRef is a canonical reference to one piece of content. The ID
// encoding is category-specific: "av<digits>" or "BV<code>" for videos,
// "ep<digits>"/"ss<digits>"/"md<digits>" for bangumi, bare digits for
// live rooms, articles and feed posts. Page is the 1-based part number
// for multi-part videos, 0 when unspecified.
type ContentRef struct {
	Category Category
	ID       string
	Page     int
}

func (r ContentRef) Key() string {
	return fmt.Sprintf("%s:%s:%d", r.Category, r.ID, r.Page)
}

func (r ContentRef) String() string {
	if r.Page > 0 {
		return fmt.Sprintf("%s:%s?p=%d", r.Category, r.ID, r.Page)
	}
	return fmt.Sprintf("%s:%s", r.Category, r.ID)
}

const bvTable = "fZodR9XQDSUm21yCkr6zBqiveYah8bt4xsWpHnJE7jL5VG3guMTKNPAwcF"

var (
	bvPositions = [6]int{11, 10, 3, 8, 4, 6}
	bvPowers    = [6]int64{1, 58, 58 * 58, 58 * 58 * 58, 58 * 58 * 58 * 58, 58 * 58 * 58 * 58 * 58}
)

const (
	bvXor = 177451812
	bvAdd = 8728348608
)

// BvToAv converts a classic "BV1..." code to its numeric av ID.
// Returns 0 for codes it cannot decode.
func BvToAv(bv string) int64 {
	if len(bv) != 12 || !strings.HasPrefix(bv, "BV") {
		return 0
	}

	rev := make(map[byte]int64, len(bvTable))
	for i := 0; i < len(bvTable); i++ {
		rev[bvTable[i]] = int64(i)
	}

	var r int64
	for i, pos := range bvPositions {
		v, ok := rev[bv[pos]]
		if !ok {
			return 0
		}
		r += v * bvPowers[i]
	}
	return (r - bvAdd) ^ bvXor
}

// AvToBv converts a numeric av ID to its classic "BV1..." code.
func AvToBv(av int64) string {
	r := (av ^ bvXor) + bvAdd
	bv := []byte("BV1  4 1 7  ")
	for i, pos := range bvPositions {
		bv[pos] = bvTable[(r/bvPowers[i])%58]
	}
	return string(bv)
}

// VideoRef builds a video ContentRef from an "av123" / "BV..." token.
func VideoRef(token string, page int) ContentRef {
	return ContentRef{Category: CategoryVideo, ID: token, Page: page}
}

// videoQuery returns the view-API query parameter for a video ID token.
func videoQuery(id string) (key, value string, err error) {
	switch {
	case strings.HasPrefix(id, "BV"):
		return "bvid", id, nil
	case strings.HasPrefix(strings.ToLower(id), "av"):
		n, convErr := strconv.ParseInt(id[2:], 10, 64)
		if convErr != nil || n <= 0 {
			return "", "", fmt.Errorf("bad av id %q", id)
		}
		return "aid", strconv.FormatInt(n, 10), nil
	default:
		return "", "", fmt.Errorf("bad video id %q", id)
	}
}
