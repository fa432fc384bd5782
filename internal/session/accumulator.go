package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/carelinehq/realtime/internal/domain"
	"github.com/carelinehq/realtime/pkg/log"
)

// Accumulator merges incremental content fragments into stable message
// records, keyed by message identifier. Fragments are concatenated in
// arrival order; nothing is reordered or deduplicated.
type Accumulator struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	order    []string
	logger   zerolog.Logger
}

func NewAccumulator(logger zerolog.Logger) *Accumulator {
	return &Accumulator{
		messages: make(map[string]*domain.Message),
		order:    make([]string, 0, 16),
		logger:   logger,
	}
}

// Seed primes the table with history loaded at resume time. Entries that
// already exist keep their accumulated state; history never overwrites
// live messages.
func (a *Accumulator) Seed(history []domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range history {
		m := history[i]
		if _, ok := a.messages[m.ID]; ok {
			continue
		}
		m.Streaming = false
		a.messages[m.ID] = &m
		a.order = append(a.order, m.ID)
	}
}

// AddLocal records a locally authored message, typically the pending user
// message created on send.
func (a *Accumulator) AddLocal(m *domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.messages[m.ID]; ok {
		a.logger.Warn().Str(log.FieldMessageID, m.ID).Msg("duplicate local message id")
		return
	}
	a.messages[m.ID] = m
	a.order = append(a.order, m.ID)
}

// Append concatenates a fragment onto the message with the given id,
// creating a streaming record first if none exists. A fragment for an
// already finalized message is dropped; content is immutable after
// finalize.
func (a *Accumulator) Append(id string, role domain.Role, fragment string) (domain.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.messages[id]
	if !ok {
		// Out-of-order or late-resume fragments must not drop content.
		m = domain.NewStreamingMessage(id, role)
		a.messages[id] = m
		a.order = append(a.order, id)
	}

	if err := m.Append(fragment); err != nil {
		a.logger.Warn().Str(log.FieldMessageID, id).Msg("fragment for finalized message dropped")
		return *m, false
	}
	return *m, true
}

// Finalize marks the message immutable and returns it. An unknown id is a
// no-op: the table is unchanged and no error surfaces.
func (a *Accumulator) Finalize(id string) (domain.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.messages[id]
	if !ok {
		a.logger.Debug().Str(log.FieldMessageID, id).Msg("completion for unknown message ignored")
		return domain.Message{}, false
	}
	m.Finalize()
	return *m, true
}

// AttachCitations appends citations to the message regardless of its
// streaming state; finalize does not lock out later attachment. An entirely
// unknown id is logged and dropped.
func (a *Accumulator) AttachCitations(id string, citations []domain.Citation) (domain.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.messages[id]
	if !ok {
		a.logger.Warn().Str(log.FieldMessageID, id).Msg("citations for unknown message dropped")
		return domain.Message{}, false
	}
	m.AttachCitations(citations)
	return *m, true
}

// Get returns a copy of the message with the given id.
func (a *Accumulator) Get(id string) (domain.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.messages[id]
	if !ok {
		return domain.Message{}, false
	}
	return *m, true
}

// Messages returns copies of all messages in insertion order.
func (a *Accumulator) Messages() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Message, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.messages[id])
	}
	return out
}

// Len reports how many messages the table holds.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}
