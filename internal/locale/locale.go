package locale

import (
	"embed"
	"path"
	"sync"

	goi18n "github.com/nicksnyder/go-i18n/i18n"
)

const DefaultLanguage = "en-us"

//go:embed translations/*.json
var translations embed.FS

var (
	loadOnce sync.Once
	loadErr  error
)

// Load registers the embedded translation files. It is safe to call repeatedly.
func Load() error {
	loadOnce.Do(func() {
		entries, err := translations.ReadDir("translations")
		if err != nil {
			loadErr = err
			return
		}
		for _, e := range entries {
			name := path.Join("translations", e.Name())
			buf, err := translations.ReadFile(name)
			if err != nil {
				loadErr = err
				return
			}
			if err := goi18n.ParseTranslationFileBytes(e.Name(), buf); err != nil {
				loadErr = err
				return
			}
		}
	})
	return loadErr
}

// T returns a translate func for lang, falling back to DefaultLanguage.
// Unknown ids translate to themselves.
func T(lang string) goi18n.TranslateFunc {
	if err := Load(); err != nil {
		return func(id string, _ ...any) string { return id }
	}
	t, err := goi18n.Tfunc(lang, DefaultLanguage)
	if err != nil {
		return func(id string, _ ...any) string { return id }
	}
	return t
}
