package messages

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"futameet/models"
)

var (
	ErrNotLecturer  = errors.New("only lecturers can create posts")
	ErrPostNotFound = errors.New("post not found")
	ErrNotAPost     = errors.New("can only reply to lecturer posts")
)

// Board is the append-only discussion store keyed by session. Posts and
// comments are never edited or deleted; the session recap reads them back in
// chronological order.
type Board struct {
	db *gorm.DB
}

func NewBoard(db *gorm.DB) *Board {
	return &Board{db: db}
}

// CreatePost appends a lecturer post. A post is its own parent.
func (b *Board) CreatePost(sessionID, userID, content string, isLecturer bool) (*models.Message, error) {
	if !isLecturer {
		return nil, ErrNotLecturer
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		UserID:         userID,
		Content:        content,
		IsLecturerPost: true,
		CreatedAt:      time.Now(),
	}
	msg.ParentID = msg.ID
	if err := b.db.Create(msg).Error; err != nil {
		return nil, errors.Wrap(err, "failed to store post")
	}
	return msg, nil
}

// CreateComment appends a reply to an existing lecturer post in the same
// session. Anyone in the session may comment, but only on root posts.
func (b *Board) CreateComment(sessionID, userID, content, postID string, isLecturer bool) (*models.Message, error) {
	var post models.Message
	if err := b.db.Where("id = ? AND session_id = ?", postID, sessionID).First(&post).Error; err != nil {
		return nil, ErrPostNotFound
	}
	if !post.IsPost() || !post.IsLecturerPost {
		return nil, ErrNotAPost
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		UserID:         userID,
		Content:        content,
		ParentID:       postID,
		IsLecturerPost: isLecturer,
		IsComment:      true,
		CreatedAt:      time.Now(),
	}
	if err := b.db.Create(msg).Error; err != nil {
		return nil, errors.Wrap(err, "failed to store comment")
	}
	return msg, nil
}

// Messages returns every message of a session in creation order.
func (b *Board) Messages(sessionID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := b.db.Where("session_id = ?", sessionID).Order("created_at asc").Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load messages")
	}
	return msgs, nil
}
