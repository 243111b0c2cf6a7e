package ai

import "strings"

// Keyword-based language detection tuned for the Somali/English customer
// base. A lightweight word list beats a full detection library here because
// WhatsApp messages are short and code-switched.

var somaliIndicators = wordSet(
	"waa", "maxaa", "sidee", "magaca", "mahadsanid", "fadlan", "haa", "maya",
	"lacag", "qiimo", "cunto", "daawo", "suuq", "guri", "shaqo", "waxaan",
	"miyaad", "naga", "iga", "kugu", "noo", "keen", "bixin", "iibso",
	"soo", "warsho", "taleefan", "adeeg", "macaamiil", "qaali", "raqiis",
	"subax", "galab", "habeen", "maanta", "berri", "shalay", "maalin",
	"dukaan", "farmashiye", "caafimaad", "dhakhtar", "dugsi", "cashar",
	"cunno", "shaah", "bariis", "hilib", "caano", "saliid",
)

var englishIndicators = wordSet(
	"the", "is", "are", "what", "how", "much", "price", "menu", "order",
	"hello", "hi", "please", "thank", "yes", "no", "want", "need",
	"available", "open", "close", "delivery", "payment", "buy", "cost",
	"when", "where", "which", "can", "would", "could", "help", "thanks",
	"good", "morning", "evening", "night", "today", "tomorrow", "time",
)

// DetectLanguage classifies a message as Somali ("so") or English ("en").
// English is the default when no clear signal exists.
func DetectLanguage(text string) string {
	somali, english := 0, 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, wordPunct)
		if somaliIndicators[word] {
			somali++
		}
		if englishIndicators[word] {
			english++
		}
	}
	if somali > english {
		return "so"
	}
	return "en"
}

// LanguageInstruction returns the prompt directive for the detected language.
func LanguageInstruction(code string) string {
	if code == "so" {
		return "Ku jawaab Af-Soomaali. Respond in Somali language. Be natural, polite, and helpful."
	}
	return "Respond in English. Be natural, polite, and helpful."
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
