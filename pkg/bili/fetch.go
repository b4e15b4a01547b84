package bili

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/chufeng/bilibot/pkg/logger"
)

// endpoints groups the per-category API URLs so tests can rewire them.
type endpoints struct {
	videoView     string
	bangumiSeason string
	bangumiMedia  string
	liveRoom      string
	articleInfo   string
	feedDetail    string
	searchType    string
}

var defaultEndpoints = endpoints{
	videoView:     "https://api.bilibili.com/x/web-interface/view",
	bangumiSeason: "https://api.bilibili.com/pgc/view/web/season",
	bangumiMedia:  "https://api.bilibili.com/pgc/review/user",
	liveRoom:      "https://api.live.bilibili.com/xlive/web-room/v1/index/getInfoByRoom",
	articleInfo:   "https://api.bilibili.com/x/article/viewinfo",
	feedDetail:    "https://api.bilibili.com/x/polymer/web-dynamic/v1/detail",
	searchType:    "https://api.bilibili.com/x/web-interface/wbi/search/type",
}

// Fetcher retrieves metadata for a resolved reference, and looks up the
// first video hit for a keyword.
type Fetcher interface {
	Fetch(ctx context.Context, ref ContentRef) (Metadata, error)
	Search(ctx context.Context, keyword string) (ContentRef, error)
}

// HTTPFetcher talks to the upstream REST API, one routine per category.
type HTTPFetcher struct {
	client *Client
	signer *WbiSigner
	ep     endpoints
}

func NewHTTPFetcher(client *Client) *HTTPFetcher {
	return &HTTPFetcher{
		client: client,
		signer: NewWbiSigner(client),
		ep:     defaultEndpoints,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref ContentRef) (Metadata, error) {
	var (
		meta Metadata
		err  error
	)
	switch ref.Category {
	case CategoryVideo:
		meta, err = f.fetchVideo(ctx, ref)
	case CategoryBangumi:
		meta, err = f.fetchBangumi(ctx, ref)
	case CategoryLive:
		meta, err = f.fetchLive(ctx, ref)
	case CategoryArticle:
		meta, err = f.fetchArticle(ctx, ref)
	case CategoryFeed:
		meta, err = f.fetchFeed(ctx, ref)
	default:
		return Metadata{}, fmt.Errorf("unknown category %q: %w", ref.Category, ErrUnresolvedLink)
	}
	if err != nil {
		logger.WarnCF("bili", "Metadata fetch failed", map[string]interface{}{
			"ref":   ref.Key(),
			"error": err.Error(),
		})
		return Metadata{}, err
	}
	meta.Category = ref.Category
	meta.ID = ref.ID
	meta.Page = ref.Page
	return meta, nil
}

type videoView struct {
	Title string `json:"title"`
	Desc  string `json:"desc"`
	Pic   string `json:"pic"`
	Owner struct {
		Name string `json:"name"`
	} `json:"owner"`
	Stat struct {
		View     int64 `json:"view"`
		Danmaku  int64 `json:"danmaku"`
		Favorite int64 `json:"favorite"`
		Like     int64 `json:"like"`
		Coin     int64 `json:"coin"`
		Reply    int64 `json:"reply"`
	} `json:"stat"`
}

func (f *HTTPFetcher) fetchVideo(ctx context.Context, ref ContentRef) (Metadata, error) {
	key, value, err := videoQuery(ref.ID)
	if err != nil {
		return Metadata{}, err
	}
	query := url.Values{key: {value}}

	var view videoView
	if err := f.client.GetJSON(ctx, f.ep.videoView, query, &view); err != nil {
		return Metadata{}, err
	}

	link := "https://www.bilibili.com/video/" + canonVideoToken(ref.ID)
	if ref.Page > 1 {
		link += fmt.Sprintf("?p=%d", ref.Page)
	}
	return Metadata{
		Title:    view.Title,
		Author:   view.Owner.Name,
		Desc:     view.Desc,
		CoverURL: view.Pic,
		URL:      link,
		Views:    statOf(view.Stat.View),
		Danmaku:  statOf(view.Stat.Danmaku),
		Favorite: statOf(view.Stat.Favorite),
		Like:     statOf(view.Stat.Like),
		Coin:     statOf(view.Stat.Coin),
		Reply:    statOf(view.Stat.Reply),
	}, nil
}

type bangumiSeason struct {
	SeasonTitle string `json:"season_title"`
	Title       string `json:"title"`
	Evaluate    string `json:"evaluate"`
	Cover       string `json:"cover"`
	Rating      struct {
		Score float64 `json:"score"`
	} `json:"rating"`
	NewEp struct {
		Desc string `json:"desc"`
	} `json:"new_ep"`
	SeasonID int64 `json:"season_id"`
}

type bangumiMedia struct {
	Media struct {
		Title  string `json:"title"`
		Cover  string `json:"cover"`
		Rating struct {
			Score float64 `json:"score"`
		} `json:"rating"`
		NewEp struct {
			IndexShow string `json:"index_show"`
		} `json:"new_ep"`
		ShareURL string `json:"share_url"`
	} `json:"media"`
}

func (f *HTTPFetcher) fetchBangumi(ctx context.Context, ref ContentRef) (Metadata, error) {
	id := strings.ToLower(ref.ID)
	digits := id[2:]

	if strings.HasPrefix(id, "md") {
		var media bangumiMedia
		query := url.Values{"media_id": {digits}}
		if err := f.client.GetJSON(ctx, f.ep.bangumiMedia, query, &media); err != nil {
			return Metadata{}, err
		}
		link := media.Media.ShareURL
		if link == "" {
			link = "https://www.bilibili.com/bangumi/media/" + id
		}
		return Metadata{
			Title:    media.Media.Title,
			CoverURL: media.Media.Cover,
			URL:      link,
			Rating:   ratingString(media.Media.Rating.Score),
			Episodes: media.Media.NewEp.IndexShow,
		}, nil
	}

	query := url.Values{}
	if strings.HasPrefix(id, "ep") {
		query.Set("ep_id", digits)
	} else {
		query.Set("season_id", digits)
	}
	var season bangumiSeason
	if err := f.client.GetJSON(ctx, f.ep.bangumiSeason, query, &season); err != nil {
		return Metadata{}, err
	}
	title := season.SeasonTitle
	if title == "" {
		title = season.Title
	}
	return Metadata{
		Title:    title,
		Desc:     season.Evaluate,
		CoverURL: season.Cover,
		URL:      "https://www.bilibili.com/bangumi/play/" + id,
		Rating:   ratingString(season.Rating.Score),
		Episodes: season.NewEp.Desc,
	}, nil
}

func ratingString(score float64) string {
	if score <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", score)
}

type liveRoom struct {
	RoomInfo struct {
		Title      string `json:"title"`
		Cover      string `json:"cover"`
		LiveStatus int    `json:"live_status"`
		AreaName   string `json:"area_name"`
		Online     int64  `json:"online"`
		RoomID     int64  `json:"room_id"`
	} `json:"room_info"`
	AnchorInfo struct {
		BaseInfo struct {
			Uname string `json:"uname"`
		} `json:"base_info"`
	} `json:"anchor_info"`
}

func (f *HTTPFetcher) fetchLive(ctx context.Context, ref ContentRef) (Metadata, error) {
	var room liveRoom
	query := url.Values{"room_id": {ref.ID}}
	if err := f.client.GetJSON(ctx, f.ep.liveRoom, query, &room); err != nil {
		return Metadata{}, err
	}
	status := room.RoomInfo.LiveStatus
	return Metadata{
		Title:      room.RoomInfo.Title,
		Author:     room.AnchorInfo.BaseInfo.Uname,
		CoverURL:   room.RoomInfo.Cover,
		URL:        "https://live.bilibili.com/" + ref.ID,
		Views:      statOf(room.RoomInfo.Online),
		LiveStatus: &status,
		AreaName:   room.RoomInfo.AreaName,
	}, nil
}

type articleInfo struct {
	Title      string   `json:"title"`
	AuthorName string   `json:"author_name"`
	ImageURLs  []string `json:"image_urls"`
	Stats      struct {
		View     int64 `json:"view"`
		Favorite int64 `json:"favorite"`
		Like     int64 `json:"like"`
		Coin     int64 `json:"coin"`
		Reply    int64 `json:"reply"`
	} `json:"stats"`
}

func (f *HTTPFetcher) fetchArticle(ctx context.Context, ref ContentRef) (Metadata, error) {
	var article articleInfo
	query := url.Values{"id": {ref.ID}}
	if err := f.client.GetJSON(ctx, f.ep.articleInfo, query, &article); err != nil {
		return Metadata{}, err
	}
	cover := ""
	if len(article.ImageURLs) > 0 {
		cover = article.ImageURLs[0]
	}
	return Metadata{
		Title:    article.Title,
		Author:   article.AuthorName,
		CoverURL: cover,
		URL:      "https://www.bilibili.com/read/cv" + ref.ID,
		Views:    statOf(article.Stats.View),
		Favorite: statOf(article.Stats.Favorite),
		Like:     statOf(article.Stats.Like),
		Coin:     statOf(article.Stats.Coin),
		Reply:    statOf(article.Stats.Reply),
	}, nil
}

type feedDetail struct {
	Item struct {
		Modules struct {
			ModuleAuthor struct {
				Name string `json:"name"`
			} `json:"module_author"`
			ModuleDynamic struct {
				Desc struct {
					Text string `json:"text"`
				} `json:"desc"`
				Major struct {
					Opus struct {
						Summary struct {
							Text string `json:"text"`
						} `json:"summary"`
					} `json:"opus"`
				} `json:"major"`
			} `json:"module_dynamic"`
			ModuleStat struct {
				Forward struct {
					Count int64 `json:"count"`
				} `json:"forward"`
				Comment struct {
					Count int64 `json:"count"`
				} `json:"comment"`
				Like struct {
					Count int64 `json:"count"`
				} `json:"like"`
			} `json:"module_stat"`
		} `json:"modules"`
	} `json:"item"`
}

func (f *HTTPFetcher) fetchFeed(ctx context.Context, ref ContentRef) (Metadata, error) {
	var detail feedDetail
	query := url.Values{"id": {ref.ID}}
	if err := f.client.GetJSON(ctx, f.ep.feedDetail, query, &detail); err != nil {
		return Metadata{}, err
	}
	modules := detail.Item.Modules
	text := modules.ModuleDynamic.Desc.Text
	if text == "" {
		text = modules.ModuleDynamic.Major.Opus.Summary.Text
	}
	return Metadata{
		Author:  modules.ModuleAuthor.Name,
		Desc:    text,
		URL:     "https://t.bilibili.com/" + ref.ID,
		Like:    statOf(modules.ModuleStat.Like.Count),
		Reply:   statOf(modules.ModuleStat.Comment.Count),
		Forward: statOf(modules.ModuleStat.Forward.Count),
	}, nil
}

type searchPage struct {
	Result []struct {
		BVID string `json:"bvid"`
	} `json:"result"`
}

// Search returns the first video hit for keyword. The endpoint requires
// WBI-signed queries.
func (f *HTTPFetcher) Search(ctx context.Context, keyword string) (ContentRef, error) {
	params := url.Values{
		"search_type": {"video"},
		"keyword":     {keyword},
	}
	signed, err := f.signer.Sign(ctx, params)
	if err != nil {
		return ContentRef{}, &UpstreamError{Msg: "sign search query", Err: err}
	}

	var page searchPage
	if err := f.client.GetJSON(ctx, f.ep.searchType, signed, &page); err != nil {
		return ContentRef{}, err
	}
	for _, hit := range page.Result {
		if hit.BVID != "" {
			return VideoRef(hit.BVID, 0), nil
		}
	}
	return ContentRef{}, fmt.Errorf("no hits for %q: %w", keyword, ErrNoResults)
}
