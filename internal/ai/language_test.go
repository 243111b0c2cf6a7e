package ai

import "testing"

func TestDetectLanguageSomali(t *testing.T) {
	cases := []string{
		"Fadlan, qiimo cunto maxaa la rabaa?",
		"waxaan rabaa bariis iyo hilib",
		"mahadsanid walaal, maanta miyaad furan tihiin",
	}
	for _, text := range cases {
		if got := DetectLanguage(text); got != "so" {
			t.Fatalf("%q: expected so, got %s", text, got)
		}
	}
}

func TestDetectLanguageEnglish(t *testing.T) {
	cases := []string{
		"Hello, what time do you open today?",
		"how much is the delivery fee",
		"I want to order the menu please",
	}
	for _, text := range cases {
		if got := DetectLanguage(text); got != "en" {
			t.Fatalf("%q: expected en, got %s", text, got)
		}
	}
}

func TestDetectLanguageDefaultsToEnglish(t *testing.T) {
	if got := DetectLanguage("123 456"); got != "en" {
		t.Fatalf("expected en default, got %s", got)
	}
	if got := DetectLanguage(""); got != "en" {
		t.Fatalf("expected en for empty input, got %s", got)
	}
}

func TestLanguageInstruction(t *testing.T) {
	if got := LanguageInstruction("so"); got == LanguageInstruction("en") {
		t.Fatal("expected distinct instructions per language")
	}
}
