package tool

import (
	"strings"
	"testing"
)

func TestCheckArguments(t *testing.T) {
	payment := Tool{
		Name: "create_payment",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount":   map[string]any{"type": "number"},
				"currency": map[string]any{"type": "string", "enum": []any{"USD", "EUR"}},
			},
			"required": []any{"amount", "currency"},
		},
	}

	problems, err := CheckArguments(payment, map[string]any{"amount": 12.5, "currency": "USD"})
	if err != nil {
		t.Fatalf("CheckArguments() error = %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("CheckArguments() problems = %v, want none", problems)
	}

	problems, err = CheckArguments(payment, map[string]any{"currency": "JPY"})
	if err != nil {
		t.Fatalf("CheckArguments() error = %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("CheckArguments() problems = %v, want missing amount and bad currency", problems)
	}
	joined := strings.Join(problems, "\n")
	if !strings.Contains(joined, "amount") || !strings.Contains(joined, "currency") {
		t.Fatalf("problems = %q", joined)
	}
}

func TestCheckArgumentsWithoutSchema(t *testing.T) {
	problems, err := CheckArguments(Tool{Name: "get_balance"}, nil)
	if err != nil || problems != nil {
		t.Fatalf("CheckArguments() = %v, %v, want nil, nil", problems, err)
	}
}

func TestCheckArgumentsReportsBrokenSchema(t *testing.T) {
	broken := Tool{Name: "broken", InputSchema: map[string]any{"type": 42}}
	if _, err := CheckArguments(broken, map[string]any{}); err == nil {
		t.Fatal("CheckArguments() error = nil, want schema error")
	}
}
