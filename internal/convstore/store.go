package convstore

import (
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	dbmodel "github.com/trishantpahwa/open-blueberry/internal/db"
)

// Each conversation keeps only its newest messages; older ones are dropped
// on append, matching the bounded memory of the chat mode.
const maxMessagesPerConversation = 20

const cacheSize = 64

type Entry struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

type Store struct {
	db    *gorm.DB
	cache *lru.Cache[string, []Entry]
}

// NewStore uses the shared DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	cache, err := lru.New[string, []Entry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

func (s *Store) Append(conversationID, role, content string) error {
	if s == nil || s.db == nil {
		return errors.New("conversation store is not initialized")
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return errors.New("conversation id is required")
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = "user"
	}
	row := dbmodel.ConversationMessage{
		ConversationID: id,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC().UnixNano(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return err
	}
	if err := s.trim(id); err != nil {
		return err
	}
	s.cache.Remove(id)
	return nil
}

func (s *Store) trim(conversationID string) error {
	var count int64
	if err := s.db.Model(&dbmodel.ConversationMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return err
	}
	excess := count - maxMessagesPerConversation
	if excess <= 0 {
		return nil
	}
	return s.db.Exec(
		`DELETE FROM conversation_messages WHERE id IN (
			SELECT id FROM conversation_messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)`, conversationID, excess).Error
}

func (s *Store) Read(conversationID string) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("conversation store is not initialized")
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return nil, errors.New("conversation id is required")
	}
	if cached, ok := s.cache.Get(id); ok {
		out := make([]Entry, len(cached))
		copy(out, cached)
		return out, nil
	}

	rows := make([]dbmodel.ConversationMessage, 0, maxMessagesPerConversation)
	if err := s.db.Where("conversation_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		})
	}
	s.cache.Add(id, entries)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) Clear(conversationID string) error {
	if s == nil || s.db == nil {
		return errors.New("conversation store is not initialized")
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return errors.New("conversation id is required")
	}
	if err := s.db.Where("conversation_id = ?", id).
		Delete(&dbmodel.ConversationMessage{}).Error; err != nil {
		return err
	}
	s.cache.Remove(id)
	return nil
}

// ActiveCount reports how many distinct conversations hold messages.
func (s *Store) ActiveCount() (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("conversation store is not initialized")
	}
	var count int64
	err := s.db.Model(&dbmodel.ConversationMessage{}).
		Distinct("conversation_id").
		Count(&count).Error
	return count, err
}
