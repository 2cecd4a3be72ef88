package domain

import "time"

// Article represents a published blog article.
type Article struct {
	// ID is the opaque, generator-produced unique identifier.
	ID string `json:"id"`

	// Title is the article headline.
	Title string `json:"title"`

	// Category is the single category the article is filed under.
	Category string `json:"category"`

	// Content is the article body.
	Content string `json:"content"`

	// CreatedAt is the timestamp when the article was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp of the last edit.
	UpdatedAt time.Time `json:"updatedAt"`

	// Views is the number of recorded views. Monotonically non-decreasing
	// except via explicit admin reset; incremented only through the
	// view-count synchronizer's locked update path.
	Views int64 `json:"views"`
}

// NewArticle creates a new Article with zero views.
func NewArticle(id, title, category, content string) *Article {
	now := time.Now().UTC()
	return &Article{
		ID:        id,
		Title:     title,
		Category:  category,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Valid reports whether the record carries every required field.
func (a *Article) Valid() bool {
	return a.ID != "" && a.Title != ""
}
