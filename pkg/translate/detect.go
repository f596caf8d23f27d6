package translate

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/NicolasHaas/parley/pkg/model"
)

// minDetectRunes is the shortest text worth running detection on.
const minDetectRunes = 12

// AlreadyIn reports whether text is reliably detected as written in lang.
// Short or ambiguous text always reports false.
func AlreadyIn(text, lang string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minDetectRunes {
		return false
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return false
	}
	return info.Lang.Iso6391() == model.PrimaryLanguage(lang)
}
