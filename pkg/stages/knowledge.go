package stages

import (
	"strings"

	"github.com/kiranamart/mandi/pkg/models"
)

// kbEntry answers questions about one topic in both template languages.
type kbEntry struct {
	topic   string
	aliases []string
	en      string
	hi      string
}

// The built-in knowledge base: typical quick-commerce price bands and item
// notes, plus what the assistant itself can do. Kept deliberately small —
// anything not covered gets the generic fallback answer.
var knowledgeBase = []kbEntry{
	{
		topic:   "milk",
		aliases: []string{"milk", "doodh", "dudh"},
		en:      "Toned milk 500ml is usually ₹27–28 on quick-commerce apps, delivered within 15 minutes.",
		hi:      "Toned doodh 500ml aam taur pe ₹27–28 ka milta hai, 15 minute mein deliver ho jata hai.",
	},
	{
		topic:   "rice",
		aliases: []string{"rice", "chawal", "basmati"},
		en:      "Basmati rice 1kg runs ₹130–150 on quick apps; 5kg packs are cheaper per kilo on marketplaces.",
		hi:      "Basmati chawal 1kg ₹130–150 ka hai; 5kg pack marketplace pe sasta padta hai.",
	},
	{
		topic:   "dal",
		aliases: []string{"dal", "daal", "toor", "arhar"},
		en:      "Toor dal 1kg is around ₹175–190 right now.",
		hi:      "Toor dal 1kg abhi ₹175–190 ke beech hai.",
	},
	{
		topic:   "atta",
		aliases: []string{"atta", "flour"},
		en:      "Whole wheat atta 5kg is about ₹248–262 on quick-commerce; 10kg packs save more.",
		hi:      "Atta 5kg lagbhag ₹248–262 ka hai; 10kg pack mein zyada bachat hai.",
	},
	{
		topic:   "eggs",
		aliases: []string{"egg", "anda", "ande"},
		en:      "A 6-pack of white eggs is ₹52–54.",
		hi:      "6 ande ka pack ₹52–54 ka hai.",
	},
	{
		topic:   "ghee",
		aliases: []string{"ghee"},
		en:      "Pure ghee 500ml is ₹310–325; 1L jars are better value on marketplaces.",
		hi:      "Shuddh ghee 500ml ₹310–325 ka hai; 1L jar marketplace pe sasta hai.",
	},
	{
		topic:   "paneer",
		aliases: []string{"paneer"},
		en:      "Fresh paneer 200g is ₹89–95, delivered cold within 20 minutes.",
		hi:      "Taaza paneer 200g ₹89–95 ka hai, 20 minute mein thanda deliver hota hai.",
	},
	{
		topic:   "tea",
		aliases: []string{"tea", "chai"},
		en:      "Branded tea 250g is ₹148–165 depending on the label.",
		hi:      "Branded chai patti 250g ₹148–165 ke beech hai.",
	},
	{
		topic: "capabilities",
		aliases: []string{
			"kya kar", "what can you", "help", "madad", "kaise kaam",
			"how do you work", "features",
		},
		en: "I can order groceries and snacks for you across Zepto, Blinkit, Amazon and Flipkart: tell me what you need, I search everywhere, compare price and delivery, and place the order after your go-ahead.",
		hi: "Main Zepto, Blinkit, Amazon aur Flipkart se grocery order kar sakta hoon: aap batayiye kya chahiye, main sab jagah dhundh ke daam aur delivery compare karta hoon, aur aapke haan bolne pe order kar deta hoon.",
	},
}

// AnswerQuery resolves an info question against the built-in knowledge base.
// The intent's extracted item narrows the lookup; otherwise the raw question
// text is matched. Always returns an answer — unknown topics get the
// generic response.
func AnswerQuery(question string, intent *models.Intent) *models.InfoAnswer {
	lower := strings.ToLower(question)
	lang := "en"
	if intent != nil && intent.LanguageTag != "" {
		lang = intent.LanguageTag
	}

	needle := lower
	if intent != nil && intent.Item != "" {
		needle = strings.ToLower(intent.Item) + " " + lower
	}

	for _, entry := range knowledgeBase {
		for _, alias := range entry.aliases {
			if strings.Contains(needle, alias) {
				return &models.InfoAnswer{
					Question: question,
					Answer:   entry.answer(lang),
					Source:   "builtin_kb",
				}
			}
		}
	}

	fallback := "I don't have details on that yet, but I can search and order it for you — just say the word."
	if lang == "hi-en" {
		fallback = "Iski jaankari abhi mere paas nahi hai, par main dhundh ke order kar sakta hoon — bas bol dijiye."
	}
	return &models.InfoAnswer{
		Question: question,
		Answer:   fallback,
		Source:   "builtin_kb",
	}
}

func (e *kbEntry) answer(lang string) string {
	if lang == "hi-en" {
		return e.hi
	}
	return e.en
}
