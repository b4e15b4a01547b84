package bili

// Metadata carries the fetched fields for one resolved content item.
// Stat fields are pointers so "upstream omitted this number" stays
// distinct from a genuine zero.
type Metadata struct {
	Category Category
	ID       string
	Page     int

	Title    string
	Author   string
	Desc     string
	CoverURL string
	URL      string

	// Video / feed stats.
	Views    *int64
	Danmaku  *int64
	Favorite *int64
	Like     *int64
	Coin     *int64
	Reply    *int64

	// Live extras.
	LiveStatus *int
	AreaName   string

	// Feed extras.
	Forward *int64

	// Bangumi extras.
	Rating   string
	Episodes string
}

func statOf(v int64) *int64 {
	return &v
}
