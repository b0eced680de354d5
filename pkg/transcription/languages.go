package transcription

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Languages the speech provider reports by English name in verbose responses.
var knownCodes = []string{
	"en", "fr", "es", "de", "it", "pt", "nl", "ru", "zh", "ja", "ko", "ar", "hi", "bn", "tr",
	"vi", "th", "id", "ms", "fa", "he", "pl", "cs", "sv", "da", "no", "fi", "hu", "el", "ro",
	"uk", "bg", "hr", "sr", "sk", "sl", "lt", "lv", "et",
}

var codeByName = func() map[string]string {
	names := make(map[string]string, len(knownCodes))
	namer := display.English.Languages()
	for _, code := range knownCodes {
		names[strings.ToLower(namer.Name(language.Make(code)))] = code
	}
	return names
}()

// Language is a resolved source language.
type Language struct {
	Code        string `json:"languageCode"`
	DisplayName string `json:"languageDisplayName"`
	Fallback    bool   `json:"fallback,omitempty"`
}

func FallbackLanguage() Language {
	return Language{Code: "en", DisplayName: "English (fallback)", Fallback: true}
}

// ResolveLanguage accepts either an ISO code ("fr", "pt-BR") or an English language name
// ("french") and returns the base ISO code with its English display name. Unknown values are
// returned verbatim.
func ResolveLanguage(value string) Language {
	v := strings.TrimSpace(value)
	if v == "" {
		return Language{}
	}
	if code, ok := codeByName[strings.ToLower(v)]; ok {
		return Language{Code: code, DisplayName: displayName(code)}
	}
	tag, err := language.Parse(v)
	if err != nil {
		return Language{Code: v, DisplayName: v}
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return Language{Code: v, DisplayName: v}
	}
	return Language{Code: base.String(), DisplayName: displayName(base.String())}
}

func displayName(code string) string {
	name := display.English.Languages().Name(language.Make(code))
	if name == "" {
		return code
	}
	return name
}
