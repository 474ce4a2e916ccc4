package tool

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Family groups tools that take the same kind of arguments.
type Family string

const (
	FamilyNone    Family = ""
	FamilyList    Family = "list"
	FamilyStatus  Family = "status"
	FamilyPayment Family = "payment"
)

const defaultListLimit = 10

// DefaultCurrency is used when a payment query names no currency.
const DefaultCurrency = "USD"

var familyKeywords = []struct {
	family   Family
	keywords []string
}{
	{FamilyList, []string{"list"}},
	{FamilyStatus, []string{"status", "get", "retrieve", "fetch", "refund", "cancel"}},
	{FamilyPayment, []string{"payment", "payout", "pay", "checkout", "transfer", "invoice"}},
}

var supportedCurrencies = []string{
	"USD", "EUR", "GBP", "SGD", "INR", "AUD", "CAD", "JPY", "CNY", "HKD",
	"IDR", "MYR", "PHP", "THB", "VND", "KRW", "AED", "SAR", "NZD", "CHF",
}

var currencyAlternation = strings.Join(supportedCurrencies, "|")

// Any case is accepted next to an amount ("1,250 eur", "EUR 40"); elsewhere
// only an upper-case code counts, so "php hosting" stays a word.
var (
	amountCurrencyPattern = regexp.MustCompile(`(?i)(?:\d\s*(` + currencyAlternation + `)\b|\b(` + currencyAlternation + `)\s*\$?\d)`)
	currencyCodePattern   = regexp.MustCompile(`\b(` + currencyAlternation + `)\b`)
)

var (
	dollarAmountPattern = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`)
	bareAmountPattern   = regexp.MustCompile(`(?:^|[^\w.])(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)(?:$|[^\w])`)
	forPattern          = regexp.MustCompile(`(?i)\bfor\s+(.+)$`)
	idTokenPattern      = regexp.MustCompile(`[A-Za-z0-9_-]{10,}`)
	listLimitPattern    = regexp.MustCompile(`(?i)\b(\d+)\s+(?:(?:most\s+)?recent\s+|latest\s+|last\s+)?(?:transactions?|payments?|payouts?|refunds?|items?|records?|results?|entries|orders?|invoices?)\b`)
)

// FamilyOf classifies a tool by the words in its name. The list family is
// checked first, then status, then payment.
func FamilyOf(t Tool) Family {
	words := nameWords(t.Name)
	for _, group := range familyKeywords {
		for _, word := range words {
			for _, keyword := range group.keywords {
				if strings.HasPrefix(word, keyword) {
					return group.family
				}
			}
		}
	}
	return FamilyNone
}

// Extract pulls arguments for t out of free text. It never fails: fields
// it cannot find are omitted and the worker decides whether the call is
// complete.
func Extract(t Tool, query string) map[string]any {
	args := map[string]any{}
	switch FamilyOf(t) {
	case FamilyPayment:
		extractPayment(query, args)
	case FamilyStatus:
		if id, ok := extractIdentifier(query); ok {
			args[identifierKey(t)] = id
		}
	case FamilyList:
		args["limit"] = extractLimit(query)
	}
	return args
}

func extractPayment(query string, args map[string]any) {
	if amount, ok := extractAmount(query); ok {
		args["amount"] = amount
	}

	args["currency"] = extractCurrency(query)

	if m := forPattern.FindStringSubmatch(query); m != nil {
		desc := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), ".!?"))
		if desc != "" {
			args["description"] = desc
		}
	}
}

func extractCurrency(query string) string {
	if m := amountCurrencyPattern.FindStringSubmatch(query); m != nil {
		return strings.ToUpper(m[1] + m[2])
	}
	if m := currencyCodePattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return DefaultCurrency
}

func extractAmount(query string) (float64, bool) {
	var raw string
	if m := dollarAmountPattern.FindStringSubmatch(query); m != nil {
		raw = m[1]
	} else if m := bareAmountPattern.FindStringSubmatch(query); m != nil {
		raw = m[1]
	} else {
		return 0, false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

// extractIdentifier picks the first long token that looks like an id. Tokens
// with a digit, underscore or hyphen win over plain words.
func extractIdentifier(query string) (string, bool) {
	tokens := idTokenPattern.FindAllString(query, -1)
	for _, token := range tokens {
		if strings.ContainsAny(token, "0123456789_-") {
			return token, true
		}
	}
	if len(tokens) > 0 {
		return tokens[0], true
	}
	return "", false
}

func extractLimit(query string) int {
	m := listLimitPattern.FindStringSubmatch(query)
	if m == nil {
		return defaultListLimit
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

// identifierKey returns the schema property an identifier belongs in: the
// single property ending in "id" when there is exactly one, else "id".
func identifierKey(t Tool) string {
	var candidates []string
	for _, prop := range t.Properties() {
		lower := strings.ToLower(prop)
		if lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(prop, "Id") {
			candidates = append(candidates, prop)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return "id"
}

func nameWords(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
