package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchLanguage(tt.accept))
		})
	}
}

func TestLocaleTag(t *testing.T) {
	assert.Equal(t, language.German, localeTag("de_DE.UTF-8"))
	assert.Equal(t, language.German, localeTag("", "de_AT@euro"))
	assert.Equal(t, language.English, localeTag("C", "en_GB.UTF-8"))
	assert.Equal(t, language.English, localeTag("", ""))
	assert.Equal(t, language.English, localeTag("ja_JP.UTF-8"))
}

func TestCatalog(t *testing.T) {
	de := NewPrinter(language.German)
	en := NewPrinter(language.English)

	assert.Equal(t, "nicht autorisiert", de.Sprintf(MsgNotAuthorized))
	assert.Equal(t, "not authorized", en.Sprintf(MsgNotAuthorized))
}

func TestGetPrinterDefault(t *testing.T) {
	p := GetPrinter(context.Background())
	assert.Equal(t, MsgNoChanges, p.Sprintf(MsgNoChanges))
}

func TestMiddleware(t *testing.T) {
	var got string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrinter(r.Context()).Sprintf(MsgBackendUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "Richtlinien-Backend nicht verfügbar", got)
}
