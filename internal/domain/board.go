package domain

// Board is a live question board students post to.
type Board struct {
	Code      string   `json:"-"`
	Title     string   `json:"title"`
	Columns   []string `json:"columns"`
	Active    bool     `json:"active"`
	CreatedAt int64    `json:"createdAt"`
}

// Post is one note on a board. Likes are keyed by device id.
type Post struct {
	Key       string          `json:"key,omitempty"`
	Text      string          `json:"text"`
	Author    string          `json:"author"`
	Column    int             `json:"column"`
	Color     string          `json:"color,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Likes     map[string]bool `json:"likes,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// LikeCount returns the number of devices that liked the post.
func (p Post) LikeCount() int {
	n := 0
	for _, v := range p.Likes {
		if v {
			n++
		}
	}
	return n
}

// SavedBoard is a frozen copy of a board and its posts.
type SavedBoard struct {
	Key       string          `json:"key,omitempty"`
	Title     string          `json:"title"`
	Columns   []string        `json:"columns"`
	Posts     map[string]Post `json:"posts"`
	SavedAt   int64           `json:"savedAt"`
	BoardCode string          `json:"boardCode"`
}
