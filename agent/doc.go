// Package agent provides the conversational core of Parley.
//
// It contains the request/response logic shared by every host (terminal,
// ACP server and WebSocket bridge). Hosts own the I/O; this package owns the
// conversation state, the request policy and the tool-calling loop.
//
// # Architecture
//
// The package is organized around two agent types:
//
//   - Agent: one conversation, one provider round-trip per Chat or Stream
//   - EnhancedAgent: an Agent with a registry of function extensions and a
//     bounded multi-round tool-calling loop
//
// Both are driven through an llm.Provider and record their history in a
// session.Session, which may be file-backed.
//
// # Usage
//
//	provider, err := llm.NewProvider(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//
//	a := agent.NewEnhanced(sess)
//	if err := a.Initialize(agent.ConfigFrom(cfg), provider); err != nil {
//	    // handle error
//	}
//	a.AddFunctionExtension(tools.NewFilesystem(&cfg.FilesystemAccess))
//
//	resp := a.Chat(ctx, session.User("What is in README.md?"))
//	if !resp.Success {
//	    // resp.Error describes the failure
//	}
//
// # Archetypes
//
// The Archetype of a Config picks the default system prompt used when none
// is set and clamps the sampling temperature:
//
//   - assistant: no clamp
//   - analytical: at most 0.4
//   - technical: at most 0.3
//   - creative: at least 0.8
//   - conversational: at least 0.7
//
// # Function calls
//
// An EnhancedAgent finds function calls in a reply through its CallExtractor.
// The default prefers the structured calls of providers with native tool use
// and falls back to lines of the form
//
//	FUNCTION_CALL: {"name": "read_file", "arguments": {"path": "README.md"}}
//
// Results are folded back into the working conversation as a single system
// message per round. Hooks let a host observe calls and veto them before
// they run.
package agent
