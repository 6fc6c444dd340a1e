package agent

import "time"

// Statistics is a snapshot of an agent's counters. The Enhanced fields are
// only populated for enhanced agents.
type Statistics struct {
	AgentType     string
	HistoryCount  int
	ContextCount  int
	IsReady       bool
	TotalMessages int
	TotalTokens   int
	InitializedAt time.Time

	Personality   string
	Extensions    int
	Functions     int
	FunctionCalls int
}

func (a *Agent) Statistics() Statistics {
	return Statistics{
		AgentType:     a.kind,
		HistoryCount:  len(a.session.Messages),
		ContextCount:  len(a.session.Context),
		IsReady:       a.ready,
		TotalMessages: a.totalMessages,
		TotalTokens:   a.totalTokens,
		InitializedAt: a.initializedAt,
	}
}

// Map renders the statistics with snake_case keys. initialized_at is an
// RFC 3339 timestamp, or empty before initialization.
func (s Statistics) Map() map[string]interface{} {
	m := map[string]interface{}{
		"agent_type":     s.AgentType,
		"history_count":  s.HistoryCount,
		"context_count":  s.ContextCount,
		"is_ready":       s.IsReady,
		"total_messages": s.TotalMessages,
		"total_tokens":   s.TotalTokens,
		"initialized_at": "",
	}
	if !s.InitializedAt.IsZero() {
		m["initialized_at"] = s.InitializedAt.Format(time.RFC3339)
	}
	if s.AgentType == TypeEnhanced {
		m["personality"] = s.Personality
		m["extensions"] = s.Extensions
		m["functions"] = s.Functions
		m["function_calls"] = s.FunctionCalls
	}
	return m
}
