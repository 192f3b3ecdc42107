package translation

import (
	"github.com/leonelquinteros/gotext"
)

func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}

// TranslateLang resolves a message in a specific user language, falling back to
// the process default when no locale for that language is loaded.
func TranslateLang(lang, msgID string, vars ...interface{}) string {
	if lang == "" || lang == GetLanguage() {
		return gotext.Get(msgID, vars...)
	}
	l := gotext.NewLocale("locales", lang)
	l.AddDomain("default")
	text := l.Get(msgID, vars...)
	if text == msgID {
		return gotext.Get(msgID, vars...)
	}
	return text
}
