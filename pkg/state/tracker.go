package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagelift/engine/internal/observability"
	"github.com/pagelift/engine/pkg/complexity"
)

// Status is the conversation run status. The only legal transitions are
// active -> completed | failed | paused.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Conversation is the per-run progress snapshot. It is owned exclusively by
// the run that created it; callers guarantee at most one active run per
// conversation.
type Conversation struct {
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	LandingPageID  string            `json:"landing_page_id,omitempty"`
	CurrentStep    int               `json:"current_step"`
	TotalSteps     int               `json:"total_steps"`
	Complexity     complexity.Tier   `json:"complexity"`
	StartTime      time.Time         `json:"start_time"`
	LastActivity   time.Time         `json:"last_activity"`
	ToolsUsed      []string          `json:"tools_used"`
	FilesModified  []string          `json:"files_modified"`
	ErrorCount     int               `json:"error_count"`
	Status         Status            `json:"status"`
	Context        map[string]string `json:"context,omitempty"`
}

// Patch is a partial update; nil fields are left untouched. Tools and Files
// accumulate as deduplicated sets rather than replacing.
type Patch struct {
	CurrentStep   *int
	TotalSteps    *int
	ToolsUsed     []string
	FilesModified []string
	ErrorDelta    int
	Context       map[string]string
}

// Tracker is the process-wide conversation state store
type Tracker struct {
	maxAge time.Duration
	clock  func() time.Time
	logger zerolog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// TrackerOptions configures a Tracker
type TrackerOptions struct {
	// MaxAge is how long an inactive conversation is retained
	MaxAge time.Duration

	// Clock is injectable for deterministic tests
	Clock func() time.Time

	Logger zerolog.Logger
}

// NewTracker creates a tracker
func NewTracker(opts TrackerOptions) *Tracker {
	observability.EnsureRegistered()

	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Tracker{
		maxAge:        opts.MaxAge,
		clock:         clock,
		logger:        opts.Logger,
		conversations: make(map[string]*Conversation),
		sweepStop:     make(chan struct{}),
	}
}

// Init creates the state for a new run
func (t *Tracker) Init(conversationID, userID, landingPageID string, tier complexity.Tier, totalSteps int) (*Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID cannot be empty")
	}
	if totalSteps <= 0 {
		return nil, fmt.Errorf("total steps must be positive")
	}

	now := t.clock()
	conv := &Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		LandingPageID:  landingPageID,
		CurrentStep:    0,
		TotalSteps:     totalSteps,
		Complexity:     tier,
		StartTime:      now,
		LastActivity:   now,
		ToolsUsed:      []string{},
		FilesModified:  []string{},
		Status:         StatusActive,
		Context:        make(map[string]string),
	}

	t.mu.Lock()
	t.conversations[conversationID] = conv
	observability.SetTrackedConversations(len(t.conversations))
	t.mu.Unlock()

	return conv.snapshot(), nil
}

// Get returns a snapshot of a conversation's state
func (t *Tracker) Get(conversationID string) (*Conversation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conv, ok := t.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return conv.snapshot(), true
}

// Update applies a partial update and refreshes lastActivity. CurrentStep is
// clamped to TotalSteps to preserve the step invariant.
func (t *Tracker) Update(conversationID string, patch Patch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.conversations[conversationID]
	if !ok {
		return fmt.Errorf("no state for conversation %s", conversationID)
	}

	if patch.TotalSteps != nil {
		conv.TotalSteps = *patch.TotalSteps
	}
	if patch.CurrentStep != nil {
		conv.CurrentStep = *patch.CurrentStep
		if conv.CurrentStep > conv.TotalSteps {
			conv.CurrentStep = conv.TotalSteps
		}
	}
	conv.ToolsUsed = dedupAppend(conv.ToolsUsed, patch.ToolsUsed)
	conv.FilesModified = dedupAppend(conv.FilesModified, patch.FilesModified)
	conv.ErrorCount += patch.ErrorDelta
	for k, v := range patch.Context {
		conv.Context[k] = v
	}
	conv.LastActivity = t.clock()

	return nil
}

// Finalize transitions the conversation out of active. Transitions from a
// terminal status are rejected.
func (t *Tracker) Finalize(conversationID string, status Status) error {
	if status == StatusActive {
		return fmt.Errorf("cannot finalize to active")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.conversations[conversationID]
	if !ok {
		return fmt.Errorf("no state for conversation %s", conversationID)
	}
	if conv.Status != StatusActive {
		return fmt.Errorf("conversation %s is already %s", conversationID, conv.Status)
	}

	conv.Status = status
	conv.LastActivity = t.clock()
	return nil
}

// Len reports how many conversations are tracked
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conversations)
}

func dedupAppend(existing, additions []string) []string {
	if len(additions) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range additions {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			existing = append(existing, v)
		}
	}
	return existing
}

// snapshot returns a copy safe to hand to callers
func (c *Conversation) snapshot() *Conversation {
	out := *c
	out.ToolsUsed = append([]string(nil), c.ToolsUsed...)
	out.FilesModified = append([]string(nil), c.FilesModified...)
	out.Context = make(map[string]string, len(c.Context))
	for k, v := range c.Context {
		out.Context[k] = v
	}
	return &out
}
