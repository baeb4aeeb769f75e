// Package i18n picks message printers for CLI output and API errors.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is used when nothing better matches.
var DefaultLang = language.English

// SupportedLangs lists the languages with a catalog.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

type printerKey struct{}

// MatchLanguage returns the best supported tag for an Accept-Language value.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return base(tag)
}

// base reduces a matched tag such as "de-u-rg-dezzzz" to its language.
func base(tag language.Tag) language.Tag {
	b, _ := tag.Base()
	t, err := language.Parse(b.String())
	if err != nil {
		return DefaultLang
	}
	return t
}

// NewPrinter returns a printer for tag.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter stores p in ctx.
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey{}, p)
}

// GetPrinter returns the printer stored in ctx, or an English one.
func GetPrinter(ctx context.Context) *message.Printer {
	if p, ok := ctx.Value(printerKey{}).(*message.Printer); ok {
		return p
	}
	return message.NewPrinter(DefaultLang)
}

// NewCLIPrinter returns a printer for the locale in LC_ALL or LANG.
func NewCLIPrinter() *message.Printer {
	return NewPrinter(localeTag(os.Getenv("LC_ALL"), os.Getenv("LANG")))
}

// localeTag maps POSIX locale values ("de_DE.UTF-8") onto a supported tag.
func localeTag(values ...string) language.Tag {
	for _, v := range values {
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i != -1 {
			v = v[:i]
		}
		tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
		if err != nil {
			continue
		}
		matched, _, _ := matcher.Match(tag)
		return base(matched)
	}
	return DefaultLang
}
