package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/session"
	"github.com/m4xw311/parley/tools"
)

// ResultsHeader opens the system message that carries function results back
// to the model.
const ResultsHeader = "Function execution results:"

// DeclinedMessage is the error text of a call rejected by Hooks.ShouldExecute.
const DeclinedMessage = "Function execution declined by user"

// Chat records msgs in the history and runs the tool-calling loop: each
// round sends the working list to the provider, executes the function calls
// found in the reply and folds their results into the working list, until a
// reply requests no calls or the call budget is spent. At most
// MaxFunctionCalls+1 rounds are run. Only the final reply is added to the
// history.
func (e *EnhancedAgent) Chat(ctx context.Context, msgs ...session.Message) *llm.Response {
	if !e.ready {
		slog.Warn("Chat on agent before initialization", "error", errors.ErrNotReady)
		return llm.Failure(NotReadyMessage)
	}

	working := e.begin(msgs)
	maxCalls := e.opts.MaxFunctionCalls
	usage := &llm.Usage{}
	calls, rounds := 0, 0
	var resp *llm.Response

	for rounds < maxCalls+1 {
		rounds++
		resp = e.roundTrip(ctx, e.policy.apply(e.BuildFunctionRequest(working)))
		if !resp.Success {
			slog.Error("Tool-calling loop aborted", "round", rounds, "function_calls", calls, "error", resp.Error)
			e.functionCalls += calls
			e.totalTokens += usage.TotalTokens
			return resp
		}
		usage.Add(resp.Usage)

		pending := e.decide(resp)
		if len(pending) == 0 || !e.opts.FunctionCalling || calls >= maxCalls {
			break
		}
		if remaining := maxCalls - calls; len(pending) > remaining {
			slog.Warn("Function call budget exceeded, dropping calls", "requested", len(pending), "remaining", remaining)
			pending = pending[:remaining]
		}

		results := e.dispatch(ctx, pending)
		calls += len(pending)
		if resp.Content != "" {
			working = append(working, session.Assistant(resp.Content))
		}
		working = append(working, foldResults(results))
	}

	e.finish(resp.Content, usage)
	e.functionCalls += calls

	out := *resp
	out.Usage = usage
	out.FunctionCalls = nil
	out.Metadata = &llm.Metadata{FunctionCalls: calls, Rounds: rounds}
	if e.personality != nil {
		out.Metadata.Personality = e.personality.Name
	}
	return &out
}

// decide returns the calls in resp that name a registered function, with
// their owning extension resolved.
func (e *EnhancedAgent) decide(resp *llm.Response) []tools.FunctionCall {
	var valid []tools.FunctionCall
	for _, call := range e.extractor.Extract(resp) {
		def, ok := e.functions[call.Name]
		if !ok {
			slog.Info("Ignoring call to unregistered function", "function", call.Name)
			continue
		}
		call.Extension = def.Extension
		valid = append(valid, call)
	}
	return valid
}

// dispatch executes calls one after another, in order.
func (e *EnhancedAgent) dispatch(ctx context.Context, calls []tools.FunctionCall) []tools.FunctionResult {
	results := make([]tools.FunctionResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.execute(ctx, call))
	}
	return results
}

func (e *EnhancedAgent) execute(ctx context.Context, call tools.FunctionCall) tools.FunctionResult {
	if e.hooks.OnFunctionCall != nil {
		e.hooks.OnFunctionCall(call)
	}

	var res tools.FunctionResult
	switch ext := e.owner(call); {
	case ext == nil:
		slog.Warn("Cannot dispatch function", "function", call.Name, "error", errors.ErrFunctionNotFound)
		res = tools.Failed(call.Name, tools.FunctionNotFound)
	case e.hooks.ShouldExecute != nil && !e.hooks.ShouldExecute(call):
		res = tools.Failed(call.Name, DeclinedMessage)
	default:
		ctx, cancel := withTimeout(ctx, e.opts.ExtensionTimeout)
		slog.Info("Executing function", "function", call.Name, "extension", ext.Name())
		res = ext.Execute(ctx, call)
		cancel()
		if res.Name == "" {
			res.Name = call.Name
		}
	}

	if !res.Success {
		slog.Warn("Function failed", "function", res.Name, "error", res.Error)
	}
	if e.hooks.OnFunctionResult != nil {
		e.hooks.OnFunctionResult(res)
	}
	return res
}

// owner resolves the extension serving call, or nil when the function or
// its extension is no longer registered.
func (e *EnhancedAgent) owner(call tools.FunctionCall) tools.Extension {
	name := call.Extension
	if name == "" {
		def, ok := e.functions[call.Name]
		if !ok {
			return nil
		}
		name = def.Extension
	}
	if def, ok := e.functions[call.Name]; !ok || def.Extension != name {
		return nil
	}
	return e.extension(name)
}

// foldResults renders one round of results as a single system message.
func foldResults(results []tools.FunctionResult) session.Message {
	var sb strings.Builder
	sb.WriteString(ResultsHeader)
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&sb, "\n- %s: SUCCESS - %s", r.Name, r.Result)
		} else {
			fmt.Fprintf(&sb, "\n- %s: ERROR - %s", r.Name, r.Error)
		}
	}
	return session.System(sb.String())
}
