package domain

import "time"

// Comment length bounds enforced at write time.
const (
	CommentContentMin = 2
	CommentContentMax = 1000
	CommentAuthorMin  = 2
	CommentAuthorMax  = 20
)

// Comment represents a comment on an article.
// The article reference is a soft foreign key: comments may dangle after
// their article is deleted and are skipped by the rendering queries.
type Comment struct {
	// ID is the unique identifier for the comment.
	ID string `json:"id"`

	// ArticleID references the commented article.
	ArticleID string `json:"articleId"`

	// Author is the display name of the comment author.
	Author string `json:"author"`

	// Content is the comment body, 2-1000 characters at write time.
	Content string `json:"content"`

	// CreatedAt is the timestamp when the comment was posted.
	CreatedAt time.Time `json:"createdAt"`

	// IsAdmin snapshots the author's admin status at post time.
	IsAdmin bool `json:"isAdmin"`

	// IsPinned floats the comment to the top of the rendering order.
	IsPinned bool `json:"isPinned"`
}

// NewComment creates a new unpinned Comment.
func NewComment(id, articleID, author, content string, isAdmin bool) *Comment {
	return &Comment{
		ID:        id,
		ArticleID: articleID,
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		IsAdmin:   isAdmin,
	}
}
