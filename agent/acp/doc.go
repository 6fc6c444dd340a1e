// Package acp implements the Agent Client Protocol (ACP) support for Parley.
// This allows Parley to integrate with code editors like Zed by communicating
// using newline-delimited JSON-RPC over stdio.
//
// The implementation supports the following ACP methods:
// - initialize: Returns the protocol version and agent capabilities
// - session/new: Creates a new session with a UUID identifier
// - session/load: Loads a saved session and replays its conversation
// - session/prompt: Runs one agent turn and returns stopReason end_turn
//
// The implementation sends the following notifications:
// - session/update: agent_message_chunk, user_message_chunk, tool_call and tool_result updates
//
// Every ACP session gets its own agent built by the Options.NewAgent factory.
package acp
