package bili

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFetcher(srvURL string) *HTTPFetcher {
	f := NewHTTPFetcher(NewClient(2 * time.Second))
	f.ep = endpoints{
		videoView:     srvURL + "/video",
		bangumiSeason: srvURL + "/season",
		bangumiMedia:  srvURL + "/media",
		liveRoom:      srvURL + "/live",
		articleInfo:   srvURL + "/article",
		feedDetail:    srvURL + "/feed",
		searchType:    srvURL + "/search",
	}
	f.signer.navURL = srvURL + "/nav"
	return f
}

func apiMux(t *testing.T) (*http.ServeMux, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mux, srv
}

func TestFetchVideo(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("bvid"); got != "BV1xx411c7mD" {
			t.Errorf("bvid = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{
			"title":"视频标题","desc":"视频简介","pic":"https://i0.hdslb.com/p.jpg",
			"owner":{"name":"UP主名"},
			"stat":{"view":3593500,"danmaku":2350,"favorite":100,"like":200,"coin":300,"reply":400}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), VideoRef("BV1xx411c7mD", 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Title != "视频标题" || meta.Author != "UP主名" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Views == nil || *meta.Views != 3593500 {
		t.Errorf("views = %v", meta.Views)
	}
	if meta.URL != "https://www.bilibili.com/video/BV1xx411c7mD" {
		t.Errorf("url = %q", meta.URL)
	}
	if meta.Category != CategoryVideo || meta.ID != "BV1xx411c7mD" {
		t.Errorf("ref fields not carried: %+v", meta)
	}
}

func TestFetchVideoByAvWithPage(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("aid"); got != "170001" {
			t.Errorf("aid = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{"title":"t","owner":{"name":"n"},"stat":{}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), VideoRef("av170001", 2))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.URL != "https://www.bilibili.com/video/av170001?p=2" {
		t.Errorf("url = %q", meta.URL)
	}
}

func TestFetchVideoNotFound(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-404,"message":"啥都木有"}`))
	})

	f := newTestFetcher(srv.URL)
	_, err := f.Fetch(context.Background(), VideoRef("av999999999", 0))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFetchBangumiSeason(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/season", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ep_id"); got != "123456" {
			t.Errorf("ep_id = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"success","result":{
			"season_title":"番剧名","evaluate":"番剧简介","cover":"https://i0.hdslb.com/c.jpg",
			"rating":{"score":9.7},"new_ep":{"desc":"全12话"}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), ContentRef{Category: CategoryBangumi, ID: "ep123456"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Title != "番剧名" || meta.Rating != "9.7" || meta.Episodes != "全12话" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.URL != "https://www.bilibili.com/bangumi/play/ep123456" {
		t.Errorf("url = %q", meta.URL)
	}
}

func TestFetchBangumiMedia(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("media_id"); got != "28220978" {
			t.Errorf("media_id = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"success","result":{"media":{
			"title":"番剧名","cover":"https://i0.hdslb.com/c.jpg",
			"rating":{"score":9.2},"new_ep":{"index_show":"全13话"},
			"share_url":"https://www.bilibili.com/bangumi/media/md28220978"}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), ContentRef{Category: CategoryBangumi, ID: "md28220978"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Title != "番剧名" || meta.Rating != "9.2" || meta.Episodes != "全13话" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestFetchLive(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("room_id"); got != "21452505" {
			t.Errorf("room_id = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{
			"room_info":{"title":"直播标题","cover":"https://i0.hdslb.com/l.jpg","live_status":1,"area_name":"单机游戏","online":123456},
			"anchor_info":{"base_info":{"uname":"主播名"}}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), ContentRef{Category: CategoryLive, ID: "21452505"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Title != "直播标题" || meta.Author != "主播名" || meta.AreaName != "单机游戏" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.LiveStatus == nil || *meta.LiveStatus != 1 {
		t.Errorf("live status = %v", meta.LiveStatus)
	}
}

func TestFetchArticle(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "12345678" {
			t.Errorf("id = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{
			"title":"专栏标题","author_name":"作者名","image_urls":["https://i0.hdslb.com/a.jpg"],
			"stats":{"view":5000,"favorite":1,"like":2,"coin":3,"reply":4}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), ContentRef{Category: CategoryArticle, ID: "12345678"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Title != "专栏标题" || meta.Author != "作者名" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.CoverURL != "https://i0.hdslb.com/a.jpg" {
		t.Errorf("cover = %q", meta.CoverURL)
	}
	if meta.URL != "https://www.bilibili.com/read/cv12345678" {
		t.Errorf("url = %q", meta.URL)
	}
}

func TestFetchFeed(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"item":{"modules":{
			"module_author":{"name":"动态作者"},
			"module_dynamic":{"desc":{"text":"动态文字"}},
			"module_stat":{"forward":{"count":1},"comment":{"count":2},"like":{"count":3}}}}}}`))
	})

	f := newTestFetcher(srv.URL)
	meta, err := f.Fetch(context.Background(), ContentRef{Category: CategoryFeed, ID: "712345"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if meta.Author != "动态作者" || meta.Desc != "动态文字" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Forward == nil || *meta.Forward != 1 {
		t.Errorf("forward = %v", meta.Forward)
	}
}

func TestSearchFirstHit(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/nav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"wbi_img":{
			"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
			"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("w_rid"); got == "" {
			t.Error("search request not signed")
		}
		if got := r.URL.Query().Get("keyword"); got != "关键词" {
			t.Errorf("keyword = %q", got)
		}
		w.Write([]byte(`{"code":0,"message":"0","data":{"result":[
			{"bvid":"BV1xx411c7mD"},{"bvid":"BV17x411w7KC"}]}}`))
	})

	f := newTestFetcher(srv.URL)
	ref, err := f.Search(context.Background(), "关键词")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	want := VideoRef("BV1xx411c7mD", 0)
	if ref != want {
		t.Errorf("ref = %+v, want %+v", ref, want)
	}
}

func TestSearchNoResults(t *testing.T) {
	mux, srv := apiMux(t)
	mux.HandleFunc("/nav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"wbi_img":{
			"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",
			"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"0","data":{"result":[]}}`))
	})

	f := newTestFetcher(srv.URL)
	_, err := f.Search(context.Background(), "冷门词")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("error = %v, want ErrNoResults", err)
	}
}
