package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/carelinehq/realtime/internal/domain"
)

// messageRecord is the sqlite row shape. Citations and attachments are
// stored as JSON columns; the local store is a resume cache, not a
// queryable archive.
type messageRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"index;size:64;not null"`
	MessageID   string `gorm:"uniqueIndex;size:64;not null"`
	Role        string `gorm:"size:16;not null"`
	Content     string `gorm:"type:text"`
	Citations   []byte `gorm:"type:blob"`
	Attachments []byte `gorm:"type:blob"`
	CreatedAt   time.Time
}

func (messageRecord) TableName() string { return "messages" }

// SQLiteStore keeps history in a local sqlite file so the CLI can resume a
// session across restarts.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	msgs := make([]domain.Message, 0, len(records))
	for _, r := range records {
		m := domain.Message{
			ID:        r.MessageID,
			Role:      domain.Role(r.Role),
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
		if len(r.Citations) > 0 {
			if err := json.Unmarshal(r.Citations, &m.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}
		if len(r.Attachments) > 0 {
			if err := json.Unmarshal(r.Attachments, &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *SQLiteStore) Record(ctx context.Context, sessionID string, msg domain.Message) error {
	record := messageRecord{
		SessionID: sessionID,
		MessageID: msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if len(msg.Citations) > 0 {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		record.Citations = data
	}
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("failed to marshal attachments: %w", err)
		}
		record.Attachments = data
	}

	err := s.db.WithContext(ctx).Create(&record).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		// Re-recording after a resume is harmless.
		return nil
	}
	return err
}
