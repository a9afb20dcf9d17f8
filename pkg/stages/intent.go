// Package stages holds the pure stage logic the pipeline engine invokes:
// intent extraction, task planning, ranking, decision policies, the info
// knowledge base, notification templates and PII masking helpers. Everything
// here is a function of its inputs; the engine owns all state and I/O.
package stages

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranamart/mandi/pkg/models"
)

// itemLexicon maps canonical item names to the aliases shoppers actually
// type, mixed Hindi and English. Matching is longest-canonical-first so
// "slice mango" wins over "mango" and "toor dal" over "dal".
var itemLexicon = map[string][]string{
	"rice":        {"rice", "chawal", "basmati"},
	"dal":         {"dal", "daal", "toor dal", "arhar", "moong", "masoor"},
	"atta":        {"atta", "flour", "wheat flour"},
	"besan":       {"besan", "gram flour"},
	"milk":        {"milk", "doodh", "dudh"},
	"bread":       {"bread", "double roti"},
	"oil":         {"oil", "tel", "cooking oil"},
	"sugar":       {"sugar", "chini", "cheeni"},
	"salt":        {"salt", "namak"},
	"onion":       {"onion", "pyaz", "pyaaz"},
	"potato":      {"potato", "aloo", "alu"},
	"tomato":      {"tomato", "tamatar"},
	"eggs":        {"egg", "eggs", "anda", "ande"},
	"paneer":      {"paneer"},
	"curd":        {"curd", "dahi", "yogurt"},
	"ghee":        {"ghee"},
	"butter":      {"butter", "makkhan"},
	"tea":         {"tea", "chai", "chai patti"},
	"maggi":       {"maggi", "noodles"},
	"slice mango": {"slice", "slice mango", "mango slice", "slice drink", "mango drink"},
	"lays":        {"lays", "lay's", "chips", "lays chips"},
	"kurkure":     {"kurkure", "kurkure chips"},
	"cadbury":     {"cadbury", "dairy milk", "bournville", "chocolate"},
}

// Phrases that signal "I need this bought", direct or indirect. Shoppers
// rarely say "buy": "khatam ho gaya" (ran out) is the most common form.
var buyKeywords = []string{
	"khatam", "nahi bacha", "nahi bachi", "nahi hai", "le ao", "le aao", "lao",
	"chahiye", "mangao", "mangva", "kar do", "kardo", "order", "buy",
	"want", "need", "get ", "bhej do", "la do", "lana",
}

// Urgency markers. Relaxed markers are checked first: "koi jaldi nahi"
// contains "jaldi" and must not read as urgent.
var (
	relaxedMarkers = []string{
		"koi jaldi nahi", "jaldi nahi", "no rush", "no hurry", "aaram se",
		"jab time mile", "whenever", "kabhi bhi", "baad mein",
	}
	urgentMarkers = []string{
		"urgent", "jaldi", "abhi", "turant", "emergency", "zaruri",
		"asap", "fast", "quick", "right now", "immediately",
	}
)

// Question markers that flip a request to the info path when no buy phrase
// is present.
var infoMarkers = []string{
	"kya hai", "kya hota", "kitna", "kitne", "kaun", "kaunsa", "kahan",
	"what is", "what's", "how much", "how many", "which", "batao", "bata do",
	"price", "rate", "?",
}

// Hindi function words used for language detection on top of the lexicon's
// Hindi aliases.
var hindiMarkers = []string{
	"khatam", "chahiye", "nahi", "hai", "karo", "kariye", "lao", "aao",
	"mangao", "abhi", "jaldi", "ghar", "wala", "wali", "bhi", "kya",
	"kitna", "kitne", "kaun", "mein", "gaya", "gayi", "gaye", "aur",
}

var quantityPattern = regexp.MustCompile(
	`(\d+(?:\.\d+)?)\s*(kg|kilogram|kilo|gram|g|litre|liter|l|ml|pack|packs|piece|pieces|pc|pcs|box|boxes|dozen|strip|strips|unit|units)?\b`)

// lexiconByLength is the canonical item list sorted longest-first, computed
// once so extraction is deterministic.
var lexiconByLength = func() []string {
	names := make([]string, 0, len(itemLexicon))
	for name := range itemLexicon {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// ExtractIntent converts one user utterance into a structured Intent. Pure
// rule-based: lexicon item match, buy/info phrase detection, urgency markers
// and a quantity pattern. Unrecognised or multi-item requests come back as
// kind=clarify with a ready-to-send question.
func ExtractIntent(text string) *models.Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	lang := detectLanguage(lower)

	items := detectItems(lower)
	hasBuy := containsAny(lower, buyKeywords)
	hasInfo := containsAny(lower, infoMarkers)
	urgency := detectUrgency(lower)
	qty, unit := detectQuantity(lower)

	switch {
	case len(items) == 0 && hasInfo:
		// A question with no recognised item still deserves an answer
		// (capability questions land here).
		return &models.Intent{
			Kind:        models.IntentInfo,
			Urgency:     urgency,
			Confidence:  0.6,
			LanguageTag: lang,
		}

	case len(items) == 0:
		return &models.Intent{
			Kind:          models.IntentClarify,
			Urgency:       urgency,
			Confidence:    0.2,
			LanguageTag:   lang,
			Clarification: clarifyUnknown(lang),
		}

	case len(items) > 1:
		return &models.Intent{
			Kind:          models.IntentClarify,
			Items:         items,
			Urgency:       urgency,
			Confidence:    0.4,
			LanguageTag:   lang,
			Clarification: clarifyMultiple(lang, items),
		}
	}

	item := items[0]

	if hasInfo && !hasBuy {
		return &models.Intent{
			Kind:        models.IntentInfo,
			Item:        item,
			Urgency:     urgency,
			Confidence:  0.85,
			LanguageTag: lang,
		}
	}

	confidence := 0.65
	if hasBuy {
		confidence = 0.9
	}
	return &models.Intent{
		Kind:        models.IntentPurchase,
		Item:        item,
		Items:       items,
		Quantity:    qty,
		Unit:        unit,
		Urgency:     urgency,
		Confidence:  confidence,
		LanguageTag: lang,
	}
}

// detectItems returns canonical item names matched in the text, longest
// canonical first. Overlapping alias spans are deduplicated so "slice mango
// drink" yields one item, not three.
func detectItems(lower string) []string {
	type span struct{ start, end int }
	var taken []span
	var out []string

	overlaps := func(s, e int) bool {
		for _, t := range taken {
			if s < t.end && e > t.start {
				return true
			}
		}
		return false
	}

	for _, name := range lexiconByLength {
		aliases := itemLexicon[name]
		// Longest alias of this item first, same reasoning as the canonical
		// ordering.
		sorted := make([]string, len(aliases))
		copy(sorted, aliases)
		sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

		for _, alias := range sorted {
			idx := strings.Index(lower, alias)
			if idx < 0 || overlaps(idx, idx+len(alias)) {
				continue
			}
			taken = append(taken, span{idx, idx + len(alias)})
			out = append(out, name)
			break
		}
	}
	return out
}

func detectUrgency(lower string) models.Urgency {
	if containsAny(lower, relaxedMarkers) {
		return models.UrgencyLow
	}
	if containsAny(lower, urgentMarkers) {
		return models.UrgencyHigh
	}
	return models.UrgencyNormal
}

func detectQuantity(lower string) (float64, string) {
	m := quantityPattern.FindStringSubmatch(lower)
	if m == nil {
		return 1, "unit"
	}
	qty, err := strconv.ParseFloat(m[1], 64)
	if err != nil || qty <= 0 {
		return 1, "unit"
	}
	unit := m[2]
	if unit == "" {
		unit = "unit"
	}
	return qty, normalizeUnit(unit)
}

func normalizeUnit(unit string) string {
	switch unit {
	case "kilogram", "kilo":
		return "kg"
	case "liter", "l":
		return "litre"
	case "pieces", "pc", "pcs":
		return "piece"
	case "packs":
		return "pack"
	case "boxes":
		return "box"
	case "strips":
		return "strip"
	case "units":
		return "unit"
	case "g":
		return "gram"
	default:
		return unit
	}
}

// detectLanguage tags the utterance hi-en when any Hindi marker or Hindi
// lexicon alias appears, en otherwise.
func detectLanguage(lower string) string {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	for _, w := range words {
		for _, marker := range hindiMarkers {
			if w == marker {
				return "hi-en"
			}
		}
	}
	// Devanagari input counts too.
	for _, r := range lower {
		if r >= 0x0900 && r <= 0x097F {
			return "hi-en"
		}
	}
	return "en"
}

func clarifyUnknown(lang string) string {
	if lang == "hi-en" {
		return "Kya laana hai? Grocery, snacks, ya kuch aur?"
	}
	return "What should I get for you? Groceries, snacks, or something else?"
}

func clarifyMultiple(lang string, items []string) string {
	list := strings.Join(items, ", ")
	if lang == "hi-en" {
		return fmt.Sprintf("Aapko %s chahiye? Ek item confirm kariye.", list)
	}
	return fmt.Sprintf("You mentioned %s — please confirm one item to order.", list)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
