package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "en"

// Alert message keys.
const (
	AlertQRNeeded          = "alert_qr_needed"
	AlertAuthFailed        = "alert_auth_failed"
	AlertLoggedOut         = "alert_logged_out"
	AlertRestartsExhausted = "alert_restarts_exhausted" // attempts, cause
	AlertDeadLettered      = "alert_dead_lettered"      // job id, queue, last error
)

type Translator struct {
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(data)
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// Default returns the embedded English catalog.
func Default() *Translator {
	t, err := NewTranslator(LocalesFS, DefaultLanguage)
	if err != nil {
		// embedded file; only a broken build gets here
		return &Translator{translations: map[string]string{}}
	}
	return t
}

// T renders key with args; unknown keys are returned as is.
func (t *Translator) T(key string, args ...any) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
