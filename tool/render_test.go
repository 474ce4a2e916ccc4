package tool

import (
	"encoding/json"
	"testing"
)

func TestRenderResult(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantText    string
		wantIsError bool
	}{
		{
			name:     "text blocks are joined",
			raw:      `{"content":[{"type":"text","text":"Payment created"},{"type":"image","data":"..."},{"type":"text","text":"id: pay_123"}]}`,
			wantText: "Payment created\nid: pay_123",
		},
		{
			name:        "isError is honoured",
			raw:         `{"content":[{"type":"text","text":"card declined"}],"isError":true}`,
			wantText:    "card declined",
			wantIsError: true,
		},
		{
			name:     "structured content is pretty printed",
			raw:      `{"content":[],"structuredContent":{"balance":12}}`,
			wantText: "{\n  \"balance\": 12\n}",
		},
		{
			name:     "plain object is pretty printed",
			raw:      `{"status":"settled"}`,
			wantText: "{\n  \"status\": \"settled\"\n}",
		},
		{
			name:     "bare string",
			raw:      `"done"`,
			wantText: "done",
		},
		{
			name:     "null result",
			raw:      `null`,
			wantText: "",
		},
		{
			name:     "invalid json passes through",
			raw:      `not json`,
			wantText: "not json",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, isError := RenderResult(json.RawMessage(tc.raw))
			if text != tc.wantText {
				t.Fatalf("RenderResult() text = %q, want %q", text, tc.wantText)
			}
			if isError != tc.wantIsError {
				t.Fatalf("RenderResult() isError = %v, want %v", isError, tc.wantIsError)
			}
		})
	}
}
