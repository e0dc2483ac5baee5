package llm

import (
	"sync"
	"time"
)

// sweepInterval bounds how often expired transcripts are scanned for.
const sweepInterval = time.Minute

type transcript struct {
	msgs    []Message
	touched time.Time
}

// history keeps the last exchanges of each session. With a positive ttl a
// transcript not extended within ttl is forgotten, matching the session
// store's eviction of idle sessions.
type history struct {
	mu    sync.Mutex
	turns int
	ttl   time.Duration
	now   func() time.Time
	swept time.Time
	byID  map[string]*transcript
}

func newHistory(turns int, ttl time.Duration) *history {
	return &history{turns: turns, ttl: ttl, now: time.Now, byID: make(map[string]*transcript)}
}

func (h *history) expired(t *transcript, now time.Time) bool {
	return h.ttl > 0 && now.Sub(t.touched) > h.ttl
}

func (h *history) get(sessionID string) []Message {
	if h.turns <= 0 || sessionID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.byID[sessionID]
	if !ok {
		return nil
	}
	if h.expired(t, h.now()) {
		delete(h.byID, sessionID)
		return nil
	}
	return append([]Message(nil), t.msgs...)
}

// add records one user/assistant exchange, dropping the oldest beyond the
// configured number of turns.
func (h *history) add(sessionID, prompt, output string) {
	if h.turns <= 0 || sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.sweep(now)

	t, ok := h.byID[sessionID]
	if !ok || h.expired(t, now) {
		t = &transcript{}
		h.byID[sessionID] = t
	}
	t.msgs = append(t.msgs,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: output},
	)
	if limit := 2 * h.turns; len(t.msgs) > limit {
		t.msgs = t.msgs[len(t.msgs)-limit:]
	}
	t.touched = now
}

// sweep drops expired transcripts. Callers hold mu.
func (h *history) sweep(now time.Time) {
	if h.ttl <= 0 || now.Sub(h.swept) < sweepInterval {
		return
	}
	h.swept = now
	for id, t := range h.byID {
		if h.expired(t, now) {
			delete(h.byID, id)
		}
	}
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byID)
}
