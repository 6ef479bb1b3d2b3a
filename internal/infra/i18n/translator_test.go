//go:build !integration

package i18n

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestTranslator(t *testing.T) {
	// Arrange
	translator, err := newTranslatorFromBytes([]byte("greeting: hola\nwelcome_user: hola %s"))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	// Assert
	t.Run("should translate a simple key", func(t *testing.T) {
		if got := translator.T("greeting"); got != "hola" {
			t.Errorf("wanted 'hola', got '%s'", got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got := translator.T("nonexistent_key"); got != "nonexistent_key" {
			t.Errorf("wanted 'nonexistent_key', got '%s'", got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got := translator.T("welcome_user", "Ana"); got != "hola Ana" {
			t.Errorf("wanted 'hola Ana', got '%s'", got)
		}
	})
}

func TestNewTranslator(t *testing.T) {
	fsys := fstest.MapFS{"locales/pt.yaml": {Data: []byte("alert_qr_needed: escaneie o QR")}}

	tr, err := NewTranslator(fsys, "pt")
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.T(AlertQRNeeded); got != "escaneie o QR" {
		t.Errorf("got %q", got)
	}

	if _, err := NewTranslator(fsys, "fr"); err == nil {
		t.Error("expected an error for a missing locale")
	}
	bad := fstest.MapFS{"locales/xx.yaml": {Data: []byte("[not a map")}}
	if _, err := NewTranslator(bad, "xx"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestEmbeddedLocales(t *testing.T) {
	keys := []string{AlertQRNeeded, AlertAuthFailed, AlertLoggedOut, AlertRestartsExhausted, AlertDeadLettered}
	for _, lang := range []string{"en", "es"} {
		tr, err := NewTranslator(LocalesFS, lang)
		if err != nil {
			t.Fatalf("%s: %v", lang, err)
		}
		for _, k := range keys {
			if tr.T(k) == k {
				t.Errorf("%s: missing %s", lang, k)
			}
		}
	}

	got := Default().T(AlertRestartsExhausted, 3, "disconnected")
	if !strings.Contains(got, "3 restart attempts (disconnected)") {
		t.Errorf("default catalog rendered %q", got)
	}
}
