package tool

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// RenderResult turns a tools/call result into display text. Text content
// blocks are joined with newlines; anything else is pretty-printed JSON.
// The second return reports the worker's isError flag.
func RenderResult(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", false
	}
	if !gjson.ValidBytes(trimmed) {
		return string(trimmed), false
	}

	parsed := gjson.ParseBytes(trimmed)
	isError := parsed.Get("isError").Bool()

	if parsed.Type == gjson.String {
		return parsed.String(), isError
	}

	texts := parsed.Get(`content.#(type=="text")#.text`).Array()
	if len(texts) > 0 {
		parts := make([]string, 0, len(texts))
		for _, text := range texts {
			parts = append(parts, text.String())
		}
		return strings.Join(parts, "\n"), isError
	}

	if structured := parsed.Get("structuredContent"); structured.Exists() {
		return prettyJSON(structured.Raw), isError
	}
	return prettyJSON(parsed.Raw), isError
}

func prettyJSON(raw string) string {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return out.String()
}
