package bili

import (
	"strconv"
	"strings"
)

// Reply is the final output unit for one resolved reference.
type Reply struct {
	Text     string
	ImageURL string
}

// Format renders metadata into the fixed per-category template. Pure,
// never fails: absent-but-applicable stats render as "-", lines that do
// not apply to the category are omitted.
func Format(ref ContentRef, meta Metadata, enableImage bool) Reply {
	var lines []string
	switch ref.Category {
	case CategoryVideo:
		lines = videoLines(meta)
	case CategoryBangumi:
		lines = bangumiLines(meta)
	case CategoryLive:
		lines = liveLines(meta)
	case CategoryArticle:
		lines = articleLines(meta)
	case CategoryFeed:
		lines = feedLines(meta)
	}

	reply := Reply{Text: strings.Join(lines, "\n")}
	if enableImage && meta.CoverURL != "" {
		reply.ImageURL = meta.CoverURL
	}
	return reply
}

func videoLines(meta Metadata) []string {
	lines := []string{
		meta.Title,
		"UP主：" + orDash(meta.Author),
		"播放：" + statString(meta.Views),
		"弹幕：" + statString(meta.Danmaku),
		"收藏：" + statString(meta.Favorite),
		"点赞：" + statString(meta.Like),
		"硬币：" + statString(meta.Coin),
		"评论：" + statString(meta.Reply),
	}
	if meta.Desc != "" {
		lines = append(lines, "简介："+meta.Desc)
	}
	return append(lines, meta.URL)
}

func bangumiLines(meta Metadata) []string {
	lines := []string{
		meta.Title,
		"评分：" + orDash(meta.Rating),
	}
	if meta.Episodes != "" {
		lines = append(lines, "更新："+meta.Episodes)
	}
	if meta.Desc != "" {
		lines = append(lines, "简介："+meta.Desc)
	}
	return append(lines, meta.URL)
}

func liveLines(meta Metadata) []string {
	lines := []string{
		meta.Title,
		"主播：" + orDash(meta.Author),
		"分区：" + orDash(meta.AreaName),
		"状态：" + liveStatusString(meta.LiveStatus),
		"人气：" + statString(meta.Views),
	}
	return append(lines, meta.URL)
}

func articleLines(meta Metadata) []string {
	lines := []string{
		meta.Title,
		"作者：" + orDash(meta.Author),
		"阅读：" + statString(meta.Views),
		"点赞：" + statString(meta.Like),
		"收藏：" + statString(meta.Favorite),
		"硬币：" + statString(meta.Coin),
		"评论：" + statString(meta.Reply),
	}
	return append(lines, meta.URL)
}

func feedLines(meta Metadata) []string {
	lines := []string{
		orDash(meta.Author) + "的动态",
	}
	if meta.Desc != "" {
		lines = append(lines, meta.Desc)
	}
	lines = append(lines,
		"点赞："+statString(meta.Like),
		"评论："+statString(meta.Reply),
		"转发："+statString(meta.Forward),
	)
	return append(lines, meta.URL)
}

func liveStatusString(status *int) string {
	if status == nil {
		return "-"
	}
	switch *status {
	case 1:
		return "直播中"
	case 2:
		return "轮播中"
	default:
		return "未开播"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// statString abbreviates counters the way the platform renders them:
// below ten thousand a plain integer, above it the value in units of
// ten thousand with at most two decimals and trailing zeros trimmed.
func statString(v *int64) string {
	if v == nil {
		return "-"
	}
	n := *v
	if n < 10000 {
		return strconv.FormatInt(n, 10)
	}
	s := strconv.FormatFloat(float64(n)/10000, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s + "万"
}
