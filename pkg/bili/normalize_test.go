package bili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeShortResolver struct {
	dest  string
	err   error
	calls int
}

func (f *fakeShortResolver) Resolve(ctx context.Context, shortURL string) (string, error) {
	f.calls++
	return f.dest, f.err
}

func TestNormalizeURLs(t *testing.T) {
	n := NewNormalizer(nil)
	tests := []struct {
		text string
		want ContentRef
	}{
		{"https://www.bilibili.com/video/BV1xx411c7mD", ContentRef{Category: CategoryVideo, ID: "BV1xx411c7mD"}},
		{"https://www.bilibili.com/video/av170001", ContentRef{Category: CategoryVideo, ID: "av170001"}},
		{"https://www.bilibili.com/video/BV1xx411c7mD?p=3", ContentRef{Category: CategoryVideo, ID: "BV1xx411c7mD", Page: 3}},
		{"https://www.bilibili.com/bangumi/play/ep123456", ContentRef{Category: CategoryBangumi, ID: "ep123456"}},
		{"https://www.bilibili.com/bangumi/play/ss33802", ContentRef{Category: CategoryBangumi, ID: "ss33802"}},
		{"https://www.bilibili.com/bangumi/media/md28220978", ContentRef{Category: CategoryBangumi, ID: "md28220978"}},
		{"https://live.bilibili.com/21452505", ContentRef{Category: CategoryLive, ID: "21452505"}},
		{"https://www.bilibili.com/read/cv12345678", ContentRef{Category: CategoryArticle, ID: "12345678"}},
		{"https://www.bilibili.com/read/mobile/12345678", ContentRef{Category: CategoryArticle, ID: "12345678"}},
		{"https://t.bilibili.com/712345678901234567", ContentRef{Category: CategoryFeed, ID: "712345678901234567"}},
		{"https://www.bilibili.com/opus/712345678901234567", ContentRef{Category: CategoryFeed, ID: "712345678901234567"}},
		{"https://m.bilibili.com/dynamic/712345678901234567", ContentRef{Category: CategoryFeed, ID: "712345678901234567"}},
		{"BV1xx411c7mD", ContentRef{Category: CategoryVideo, ID: "BV1xx411c7mD"}},
		{"av170001", ContentRef{Category: CategoryVideo, ID: "av170001"}},
		{"cv12345678", ContentRef{Category: CategoryArticle, ID: "12345678"}},
	}
	for _, tt := range tests {
		got, err := n.Normalize(context.Background(), Candidate{Text: tt.text, Kind: KindURL})
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestNormalizeUnrecognized(t *testing.T) {
	n := NewNormalizer(nil)
	for _, text := range []string{
		"https://www.bilibili.com/festival/whatever",
		"hello world",
	} {
		_, err := n.Normalize(context.Background(), Candidate{Text: text, Kind: KindURL})
		if !errors.Is(err, ErrUnresolvedLink) {
			t.Errorf("Normalize(%q) error = %v, want ErrUnresolvedLink", text, err)
		}
	}
}

func TestNormalizeShortLink(t *testing.T) {
	shorts := &fakeShortResolver{dest: "https://www.bilibili.com/video/BV1xx411c7mD?p=2&share_source=qq"}
	n := NewNormalizer(shorts)

	c := Candidate{Text: "b23.tv/abc123", Kind: KindShortLink}
	want := ContentRef{Category: CategoryVideo, ID: "BV1xx411c7mD", Page: 2}

	first, err := n.Normalize(context.Background(), c)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if first != want {
		t.Fatalf("Normalize = %+v, want %+v", first, want)
	}

	// Resolving the same short code again yields the same ref.
	second, err := n.Normalize(context.Background(), c)
	if err != nil {
		t.Fatalf("second Normalize failed: %v", err)
	}
	if second != first {
		t.Errorf("second resolution = %+v, first was %+v", second, first)
	}
	if shorts.calls != 2 {
		t.Errorf("resolver called %d times, want 2", shorts.calls)
	}
}

func TestNormalizeShortLinkFailure(t *testing.T) {
	shorts := &fakeShortResolver{err: fmt.Errorf("connection refused")}
	n := NewNormalizer(shorts)
	_, err := n.Normalize(context.Background(), Candidate{Text: "b23.tv/dead", Kind: KindShortLink})
	if !errors.Is(err, ErrUnresolvedLink) {
		t.Fatalf("error = %v, want ErrUnresolvedLink", err)
	}
}

func TestNormalizeShortLinkForeignTarget(t *testing.T) {
	shorts := &fakeShortResolver{dest: "https://www.bilibili.com/blackboard/activity.html"}
	n := NewNormalizer(shorts)
	_, err := n.Normalize(context.Background(), Candidate{Text: "b23.tv/promo", Kind: KindShortLink})
	if !errors.Is(err, ErrUnresolvedLink) {
		t.Fatalf("error = %v, want ErrUnresolvedLink", err)
	}
}

func TestHTTPShortResolverFollowsChain(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/hop1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop2", http.StatusFound)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/final", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resolver := NewHTTPShortResolver(NoRedirectClient(2 * time.Second))
	got, err := resolver.Resolve(context.Background(), srv.URL+"/hop1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != srv.URL+"/final" {
		t.Errorf("Resolve = %q, want %q", got, srv.URL+"/final")
	}
}

func TestHTTPShortResolverHopLimit(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	resolver := NewHTTPShortResolver(NoRedirectClient(2 * time.Second))
	if _, err := resolver.Resolve(context.Background(), srv.URL+"/loop"); err == nil {
		t.Fatal("expected error on unbounded redirect loop")
	}
}
