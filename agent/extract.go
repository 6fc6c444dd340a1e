package agent

import (
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/m4xw311/parley/errors"
	"github.com/m4xw311/parley/llm"
	"github.com/m4xw311/parley/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarkerPrefix starts a text line carrying a function call.
const MarkerPrefix = "FUNCTION_CALL:"

// CallExtractor finds the function calls requested by a provider response.
type CallExtractor interface {
	Extract(resp *llm.Response) []tools.FunctionCall
}

// ExtractorFunc adapts a function to CallExtractor.
type ExtractorFunc func(resp *llm.Response) []tools.FunctionCall

func (f ExtractorFunc) Extract(resp *llm.Response) []tools.FunctionCall { return f(resp) }

// NativeExtractor returns the structured calls of backends with native tool use.
type NativeExtractor struct{}

func (NativeExtractor) Extract(resp *llm.Response) []tools.FunctionCall {
	return append([]tools.FunctionCall(nil), resp.FunctionCalls...)
}

// MarkerExtractor parses lines of the form
//
//	FUNCTION_CALL: {"name": "...", "arguments": {...}}
//
// from the response text. Lines with an undecodable payload are dropped.
type MarkerExtractor struct{}

func (MarkerExtractor) Extract(resp *llm.Response) []tools.FunctionCall {
	var calls []tools.FunctionCall
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, MarkerPrefix) {
			continue
		}
		call, err := parseMarker(strings.TrimSpace(strings.TrimPrefix(line, MarkerPrefix)))
		if err != nil {
			slog.Warn("Dropping malformed function call", "line", line, "error", err)
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func parseMarker(payload string) (tools.FunctionCall, error) {
	var call tools.FunctionCall
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return tools.FunctionCall{}, errors.Wrapf(errors.ErrMalformedCall, "%v", err)
	}
	if call.Name == "" {
		return tools.FunctionCall{}, errors.Wrapf(errors.ErrMalformedCall, "missing function name")
	}
	return call, nil
}

// Chain returns the calls of the first extractor that finds any.
type Chain []CallExtractor

func (c Chain) Extract(resp *llm.Response) []tools.FunctionCall {
	for _, x := range c {
		if calls := x.Extract(resp); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// DefaultExtractor prefers native calls and falls back to text markers.
func DefaultExtractor() CallExtractor {
	return Chain{NativeExtractor{}, MarkerExtractor{}}
}
