package server

import (
	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/engine"
)

// ChatRequest is one query sent over the chat channel.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

// ChatResponse is the answer to a ChatRequest.
type ChatResponse struct {
	SessionID         string         `json:"session_id"`
	Response          string         `json:"response"`
	AgentType         core.AgentID   `json:"agent_type"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ModelUsed         string         `json:"model_used"`
	WasCollaboration  bool           `json:"was_collaboration"`
	CollaborationMode string         `json:"collaboration_mode"`
	PrimaryAgent      core.AgentID   `json:"primary_agent"`
	ConsultingAgents  []core.AgentID `json:"consulting_agents,omitempty"`
	ThoughtProcess    []string       `json:"thought_process,omitempty"`
	Degraded          bool           `json:"degraded"`
	Durable           bool           `json:"durable"`
}

// ErrorResponse reports a request-level failure on the chat channel.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse wraps a session's turn log.
type HistoryResponse struct {
	SessionID string      `json:"session_id"`
	Turns     []core.Turn `json:"turns"`
}

func toChatResponse(result *engine.Result) ChatResponse {
	return ChatResponse{
		SessionID:         result.SessionID,
		Response:          result.Response,
		AgentType:         result.Agent,
		ConfidenceScore:   result.Confidence,
		ModelUsed:         result.ModelUsed,
		WasCollaboration:  result.Collaboration.Active(),
		CollaborationMode: string(result.Collaboration.Mode),
		PrimaryAgent:      result.Collaboration.Primary,
		ConsultingAgents:  result.Collaboration.Consulting,
		ThoughtProcess:    result.Collaboration.ThoughtProcess,
		Degraded:          result.Degraded,
		Durable:           result.Durable,
	}
}
