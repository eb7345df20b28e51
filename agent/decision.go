package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"nlsql/mcp"
	"nlsql/model"
)

// Decision is what the engine chose to do at one step: exactly one of Call
// and Answer is set.
type Decision struct {
	Call   *model.ToolCall
	Answer string
}

// Some models, qwen in particular, write the call into the reply text instead
// of returning a structured tool call.
var (
	leakedJSONStart = regexp.MustCompile(`\{\s*"name"\s*:`)
	leakedJSONName  = regexp.MustCompile(`\{\s*"name"\s*:\s*"([^"]*)"`)
	leakedJSONArgs  = regexp.MustCompile(`\{\s*"name"\s*:[^{}]*"(?:arguments|parameters|param|input)"\s*:`)
	leakedXML       = regexp.MustCompile(`<(?:tool_call|function_call)>\s*<name>([^<]+)</name>\s*<arguments>([^<]*)</arguments>\s*</(?:tool_call|function_call)>`)
	leakedQwenXML   = regexp.MustCompile(`(?s)<function=([^>]+)>(.*?)</function>`)
	qwenParameter   = regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*?)</parameter>`)
	toolCallMarkup  = regexp.MustCompile(`</?(?:tool_call|function_call)>|<function=`)
)

type leakedCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
	Param      json.RawMessage `json:"param"`
	Input      json.RawMessage `json:"input"`
}

func (l leakedCall) hasArgs() bool {
	return len(l.Arguments) > 0 || len(l.Parameters) > 0 || len(l.Param) > 0 || len(l.Input) > 0
}

func (l leakedCall) args() map[string]any {
	for _, raw := range []json.RawMessage{l.Arguments, l.Parameters, l.Param, l.Input} {
		if len(raw) == 0 {
			continue
		}
		return decodeArgs(raw)
	}
	return map[string]any{}
}

// decodeArgs accepts an object or a JSON string holding an object.
func decodeArgs(raw json.RawMessage) map[string]any {
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil && args != nil {
		return args
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &args); err == nil && args != nil {
			return args
		}
	}
	return map[string]any{}
}

// parseDecision turns one engine reply into a Decision. Structured tool calls
// win over text; only the first call is taken. Text that looks like a call
// but cannot be recovered is a parse error, never an answer. A JSON object
// in the text is only a call when it names a known capability or carries
// arguments; anything else, such as a row quoted in an answer, is prose.
func parseDecision(content string, calls []model.ToolCall, cat *mcp.Catalogue) (Decision, error) {
	if len(calls) > 0 {
		call := calls[0]
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		if _, ok := cat.Lookup(call.Name); !ok {
			return Decision{}, fmt.Errorf("%w: unknown capability %q", ErrParse, call.Name)
		}
		return Decision{Call: &call}, nil
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return Decision{}, fmt.Errorf("%w: empty reply", ErrParse)
	}

	if call, ok := recoverCall(content, cat); ok {
		if _, known := cat.Lookup(call.Name); !known {
			return Decision{}, fmt.Errorf("%w: unknown capability %q", ErrParse, call.Name)
		}
		return Decision{Call: call}, nil
	}

	if toolCallMarkup.MatchString(content) || leakedJSONArgs.MatchString(content) || namesCapability(content, cat) {
		return Decision{}, fmt.Errorf("%w: malformed capability invocation: %.200s", ErrParse, content)
	}

	return Decision{Answer: content}, nil
}

func recoverCall(content string, cat *mcp.Catalogue) (*model.ToolCall, bool) {
	for _, loc := range leakedJSONStart.FindAllStringIndex(content, -1) {
		var lc leakedCall
		if err := json.NewDecoder(strings.NewReader(content[loc[0]:])).Decode(&lc); err != nil {
			continue
		}
		name := strings.TrimSpace(lc.Name)
		if name == "" {
			continue
		}
		if _, known := cat.Lookup(name); known || lc.hasArgs() {
			return &model.ToolCall{Name: name, Arguments: lc.args()}, true
		}
	}

	if m := leakedXML.FindStringSubmatch(content); m != nil {
		args := map[string]any{}
		if body := strings.TrimSpace(m[2]); body != "" {
			args = decodeArgs(json.RawMessage(body))
		}
		return &model.ToolCall{Name: strings.TrimSpace(m[1]), Arguments: args}, true
	}

	if m := leakedQwenXML.FindStringSubmatch(content); m != nil {
		args := map[string]any{}
		for _, p := range qwenParameter.FindAllStringSubmatch(m[2], -1) {
			args[strings.TrimSpace(p[1])] = strings.TrimSpace(p[2])
		}
		return &model.ToolCall{Name: strings.TrimSpace(m[1]), Arguments: args}, true
	}

	return nil, false
}

// namesCapability reports whether a JSON object in the text starts with the
// name of a known capability.
func namesCapability(content string, cat *mcp.Catalogue) bool {
	for _, m := range leakedJSONName.FindAllStringSubmatch(content, -1) {
		if _, ok := cat.Lookup(strings.TrimSpace(m[1])); ok {
			return true
		}
	}
	return false
}
