package article

import "time"

// Comments is the per-article comments.json document.
type Comments struct {
	ArticleID  string       `json:"articleId"`
	Comments   []Comment    `json:"comments"`
	Stats      CommentStats `json:"stats"`
	Moderation Moderation   `json:"moderation"`
}

// Comment is a single, possibly anonymous, reader comment.
type Comment struct {
	ID        string        `json:"id"`
	Author    CommentAuthor `json:"author"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Likes     int           `json:"likes"`
	Replies   []Comment     `json:"replies"`
}

// CommentAuthor is free-form; there is no link to a user identity.
type CommentAuthor struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// CommentStats summarizes the thread.
type CommentStats struct {
	TotalComments int        `json:"totalComments"`
	TotalReplies  int        `json:"totalReplies"`
	LastComment   *time.Time `json:"lastComment"`
}

// Moderation holds the thread's moderation policy.
type Moderation struct {
	AllowAnonymous  bool `json:"allowAnonymous"`
	RequireApproval bool `json:"requireApproval"`
	MaxLength       int  `json:"maxLength"`
}

// EmptyComments returns the scaffold written when an article is published.
func EmptyComments(slug string) Comments {
	return Comments{
		ArticleID: slug,
		Comments:  []Comment{},
		Moderation: Moderation{
			AllowAnonymous:  true,
			RequireApproval: false,
			MaxLength:       1000,
		},
	}
}
