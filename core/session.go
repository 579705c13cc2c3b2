package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role discriminates who authored a conversation turn.
type Role string

const (
	// RoleUser marks turns authored by the human.
	RoleUser Role = "user"
	// RoleAgent marks turns authored by a specialist agent.
	RoleAgent Role = "agent"
)

// Turn is one immutable entry in a session's append-only conversation log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Agent records which specialist authored an agent turn. Follow-up
	// queries inherit their routing from the most recent agent turn.
	Agent AgentID `json:"agent,omitempty"`

	// Summary marks a synthetic turn produced by history summarization. It
	// replaces a prefix of older turns, never the most recent ones.
	Summary bool `json:"summary,omitempty"`
}

// NewUserTurn creates a user-authored turn stamped with the current time.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAgentTurn creates an agent-authored turn stamped with the current time.
func NewAgentTurn(agent AgentID, content string) Turn {
	return Turn{Role: RoleAgent, Agent: agent, Content: content, Timestamp: time.Now().UTC()}
}

// LastAgent returns the specialist that authored the most recent agent turn
// in turns, or AgentAuto when none exists.
func LastAgent(turns []Turn) AgentID {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleAgent && turns[i].Agent.IsSpecialist() {
			return turns[i].Agent
		}
	}
	return AgentAuto
}

// Session is the durable conversational container: a unique id plus the
// ordered turn log. Sessions are created lazily on the first message lacking
// a session id and removed only by an explicit Clear.
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewSessionID mints a globally unique session identifier.
func NewSessionID() string { return uuid.NewString() }

// SessionStore persists per-session turn history.
//
// Contract:
//   - Append is strictly ordered by call time; implementations serialize
//     concurrent appends for the same session id while allowing full
//     parallelism across distinct sessions.
//   - History returns the exact appended sequence, except that a prefix of
//     old turns may have been collapsed into a single summary turn.
//   - Clear removes all state for the session; a subsequent History returns
//     an empty sequence.
//   - Close releases the backing connection. The store is opened once at
//     process startup and closed exactly once during shutdown.
type SessionStore interface {
	Create(ctx context.Context) (string, error)
	Append(ctx context.Context, sessionID string, turn Turn) error
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
