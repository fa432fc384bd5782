package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/carelinehq/realtime/internal/domain"
)

// Reply is one assistant response, pre-split into the fragments the
// gateway streams back as message.delta frames.
type Reply struct {
	Fragments []string
	Citations []domain.Citation
}

// Content returns the full reply text.
func (r Reply) Content() string {
	return strings.Join(r.Fragments, "")
}

// Responder turns one user message into an assistant reply. The real
// platform fronts a clinical language model here; the reference gateway
// ships scripted and echo implementations.
type Responder interface {
	Respond(ctx context.Context, sessionID, content string) Reply
}

// EchoResponder streams the user's content back word by word.
type EchoResponder struct{}

func (EchoResponder) Respond(ctx context.Context, sessionID, content string) Reply {
	words := strings.SplitAfter(content, " ")
	return Reply{Fragments: words}
}

// ScriptedResponder maps exact user content to canned replies; unmatched
// content gets the fallback. Used by tests and demos.
type ScriptedResponder struct {
	mu       sync.RWMutex
	replies  map[string]Reply
	fallback Reply
}

func NewScriptedResponder(fallback Reply) *ScriptedResponder {
	return &ScriptedResponder{
		replies:  make(map[string]Reply),
		fallback: fallback,
	}
}

// Script registers the reply for one exact user message.
func (r *ScriptedResponder) Script(content string, reply Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[content] = reply
}

func (r *ScriptedResponder) Respond(ctx context.Context, sessionID, content string) Reply {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reply, ok := r.replies[content]; ok {
		return reply
	}
	return r.fallback
}
