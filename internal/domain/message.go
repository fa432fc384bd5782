package domain

import (
	"errors"
	"time"
)

// Role describes who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrMessageFinalized is returned when content is appended to a message
// that has already been finalized.
var ErrMessageFinalized = errors.New("domain: message already finalized")

// Message is one unit of conversational content. While Streaming is true the
// content buffer is append-only; after Finalize it is immutable.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Streaming   bool         `json:"streaming"`
	Citations   []Citation   `json:"citations,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewStreamingMessage creates an assistant message that is still receiving
// content fragments.
func NewStreamingMessage(id string, role Role) *Message {
	if role == "" {
		role = RoleAssistant
	}
	return &Message{
		ID:        id,
		Role:      role,
		Streaming: true,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a finalized user-authored message.
func NewUserMessage(id, content string, attachments []Attachment) *Message {
	return &Message{
		ID:          id,
		Role:        RoleUser,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
}

// Append concatenates a content fragment onto the message buffer.
func (m *Message) Append(fragment string) error {
	if !m.Streaming {
		return ErrMessageFinalized
	}
	m.Content += fragment
	return nil
}

// Finalize marks the content immutable. Safe to call more than once.
func (m *Message) Finalize() {
	m.Streaming = false
}

// AttachCitations appends citations to the message. Citations may arrive
// before or after finalize; both are accepted.
func (m *Message) AttachCitations(citations []Citation) {
	m.Citations = append(m.Citations, citations...)
}

// Citation is an immutable source reference owned by exactly one message.
type Citation struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	URL        string     `json:"url,omitempty"`
	DOI        string     `json:"doi,omitempty"`
	Page       int        `json:"page,omitempty"`
	Excerpt    string     `json:"excerpt,omitempty"`
	Relevance  float64    `json:"relevance,omitempty"`
}

// SourceType classifies where a citation comes from.
type SourceType string

const (
	SourceGuideline SourceType = "guideline"
	SourceJournal   SourceType = "journal"
	SourceTextbook  SourceType = "textbook"
	SourceDrugLabel SourceType = "drug_label"
	SourceWebsite   SourceType = "website"
)

// Attachment is a reference to an uploaded file carried on a message.
// The bytes themselves live in an attachment store; the protocol only
// moves references.
type Attachment struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}
