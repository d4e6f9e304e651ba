package translate

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// defaultParameters is sent for function tools that declare no schema.
const defaultParameters = `{"type":"object","properties":{}}`

// DropTools removes every tool whose type is in drop. When no tool is left,
// both tools and tool_choice are removed so the request never references a
// dropped tool. A tool_choice that names a dropped type is removed as well.
func DropTools(body []byte, drop []string) ([]byte, error) {
	tools := gjson.GetBytes(body, "tools")
	if !tools.Exists() {
		return body, nil
	}
	if !tools.IsArray() {
		return nil, badRequest("`tools` must be an array")
	}

	var kept []string
	total := 0
	for _, t := range tools.Array() {
		total++
		if slices.Contains(drop, t.Get("type").String()) {
			continue
		}
		kept = append(kept, t.Raw)
	}

	var err error
	switch {
	case len(kept) == 0:
		if body, err = sjson.DeleteBytes(body, "tools"); err != nil {
			return nil, err
		}
		if body, err = sjson.DeleteBytes(body, "tool_choice"); err != nil {
			return nil, err
		}
		return body, nil
	case len(kept) < total:
		body, err = sjson.SetRawBytes(body, "tools", []byte("["+strings.Join(kept, ",")+"]"))
		if err != nil {
			return nil, err
		}
	}

	choice := gjson.GetBytes(body, "tool_choice")
	if choice.IsObject() && slices.Contains(drop, choice.Get("type").String()) {
		return sjson.DeleteBytes(body, "tool_choice")
	}
	return body, nil
}

// chatTools converts Responses-style tools to the chat shape. Flat function
// tools are wrapped into {type, function:{...}}; already wrapped ones and
// non-function tools pass through; nameless function tools are dropped.
func chatTools(tools gjson.Result) []json.RawMessage {
	var out []json.RawMessage
	for _, t := range tools.Array() {
		if t.Get("type").String() != "function" {
			out = append(out, json.RawMessage(t.Raw))
			continue
		}
		if t.Get("function").IsObject() {
			out = append(out, json.RawMessage(t.Raw))
			continue
		}
		name := strings.TrimSpace(t.Get("name").String())
		if name == "" {
			slog.Warn("dropping function tool without name")
			continue
		}
		fn := `{}`
		fn, _ = sjson.Set(fn, "name", name)
		if d := t.Get("description"); d.Exists() {
			fn, _ = sjson.SetRaw(fn, "description", d.Raw)
		}
		params := defaultParameters
		if p := t.Get("parameters"); p.IsObject() {
			params = p.Raw
		}
		fn, _ = sjson.SetRaw(fn, "parameters", params)
		if s := t.Get("strict"); s.Exists() {
			fn, _ = sjson.SetRaw(fn, "strict", s.Raw)
		}
		wrapped, _ := sjson.SetRaw(`{"type":"function"}`, "function", fn)
		out = append(out, json.RawMessage(wrapped))
	}
	return out
}

// chatToolChoice normalizes a Responses tool_choice for the chat wire.
func chatToolChoice(choice gjson.Result) json.RawMessage {
	switch {
	case choice.Type == gjson.String:
		return json.RawMessage(choice.Raw)
	case choice.IsObject() && choice.Get("function").IsObject():
		return json.RawMessage(choice.Raw)
	case choice.IsObject() && choice.Get("type").String() == "function" && choice.Get("name").String() != "":
		out, _ := sjson.Set(`{"type":"function"}`, "function.name", choice.Get("name").String())
		return json.RawMessage(out)
	}
	return json.RawMessage(`"auto"`)
}

// responsesTools flattens chat function tools into the Responses shape.
func responsesTools(tools gjson.Result) []json.RawMessage {
	var out []json.RawMessage
	for _, t := range tools.Array() {
		fn := t.Get("function")
		if t.Get("type").String() != "function" || !fn.IsObject() {
			out = append(out, json.RawMessage(t.Raw))
			continue
		}
		name := strings.TrimSpace(fn.Get("name").String())
		if name == "" {
			slog.Warn("dropping function tool without name")
			continue
		}
		flat, _ := sjson.Set(`{"type":"function"}`, "name", name)
		if d := fn.Get("description"); d.Exists() {
			flat, _ = sjson.SetRaw(flat, "description", d.Raw)
		}
		params := defaultParameters
		if p := fn.Get("parameters"); p.IsObject() {
			params = p.Raw
		}
		flat, _ = sjson.SetRaw(flat, "parameters", params)
		if s := fn.Get("strict"); s.Exists() {
			flat, _ = sjson.SetRaw(flat, "strict", s.Raw)
		}
		out = append(out, json.RawMessage(flat))
	}
	return out
}

// responsesToolChoice unwraps {type:function,function:{name}} into the flat
// Responses form; other values pass through.
func responsesToolChoice(choice gjson.Result) json.RawMessage {
	if choice.IsObject() && choice.Get("function.name").Exists() {
		out, _ := sjson.Set(`{"type":"function"}`, "name", choice.Get("function.name").String())
		return json.RawMessage(out)
	}
	return json.RawMessage(choice.Raw)
}
