package tool

import (
	"maps"
	"slices"
	"strings"
)

// IntentTable maps a tool name to phrases that signal the user wants that
// tool. Phrases are matched as lowercase substrings of the query.
type IntentTable map[string][]string

// DefaultIntents returns the built-in intent phrases for the common payment
// operations.
func DefaultIntents() IntentTable {
	return IntentTable{
		"create_payment": {
			"create payment", "make a payment", "make payment", "new payment",
			"send money", "send a payment", "pay someone", "charge",
		},
		"create_payout": {
			"create payout", "send payout", "payout to", "transfer money",
			"send funds", "transfer funds", "wire",
		},
		"get_payment_status": {
			"payment status", "status of payment", "status of my payment",
			"check payment", "track payment", "where is my payment",
		},
		"list_transactions": {
			"list transactions", "show transactions", "recent transactions",
			"transaction history", "my transactions", "list payments",
			"recent payments", "show payments",
		},
		"get_balance": {
			"check balance", "account balance", "my balance", "how much money",
			"available funds",
		},
		"create_checkout": {
			"checkout link", "checkout session", "payment link", "create checkout",
			"collect payment",
		},
		"refund_payment": {
			"refund", "reverse payment", "money back",
		},
		"get_exchange_rate": {
			"exchange rate", "fx rate", "conversion rate", "convert currency",
		},
	}
}

// Merge returns a copy of t with extra phrases appended. Phrases are
// normalized to lowercase and duplicates are dropped.
func (t IntentTable) Merge(extra map[string][]string) IntentTable {
	out := make(IntentTable, len(t)+len(extra))
	for name, phrases := range t {
		out[name] = slices.Clone(phrases)
	}
	for name, phrases := range extra {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		merged := out[name]
		for _, phrase := range phrases {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase == "" || slices.Contains(merged, phrase) {
				continue
			}
			merged = append(merged, phrase)
		}
		out[name] = merged
	}
	return out
}

// Names returns the tool names with intent phrases, sorted.
func (t IntentTable) Names() []string {
	return slices.Sorted(maps.Keys(t))
}

// matches reports whether query (already lowercased) carries an intent
// phrase for toolName.
func (t IntentTable) matches(toolName, query string) bool {
	for _, phrase := range t[toolName] {
		if phrase != "" && strings.Contains(query, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
