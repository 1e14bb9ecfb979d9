// Package format turns a raw pipeline answer into the user-facing reply.
package format

import (
	"context"
	"strings"

	"carebot/pkg/classifier"
	"carebot/pkg/config"
	"carebot/pkg/language"
)

// Formatter appends the disclaimer, builds the emergency reply and
// translates into the user's language.
type Formatter struct {
	translator        language.Translator
	disclaimer        string
	banner            string
	localizedBanners  map[string]string
	emergencyTemplate string
	fallbackTemplate  string
}

// New builds a formatter from the pipeline texts. A nil translator means
// replies stay in English.
func New(cfg config.PipelineConfig, translator language.Translator) *Formatter {
	if translator == nil {
		translator = language.Identity{}
	}

	banners := make(map[string]string, len(cfg.LocalizedBanners))
	for code, banner := range cfg.LocalizedBanners {
		if canonical := language.Canonical(code); canonical != "" && strings.TrimSpace(banner) != "" {
			banners[canonical] = strings.TrimSpace(banner)
		}
	}

	return &Formatter{
		translator:        translator,
		disclaimer:        strings.TrimSpace(cfg.Disclaimer),
		banner:            strings.TrimSpace(cfg.EmergencyBanner),
		localizedBanners:  banners,
		emergencyTemplate: strings.TrimSpace(cfg.EmergencyTemplate),
		fallbackTemplate:  strings.TrimSpace(cfg.FallbackTemplate),
	}
}

// Format composes and localizes a reply in one step.
func (f *Formatter) Format(ctx context.Context, raw string, strategy classifier.Strategy, target string) string {
	if strategy == classifier.Emergency {
		return f.Emergency(target)
	}

	return f.Localize(ctx, f.Compose(raw, strategy), target)
}

// Compose builds the English reply. Empty raw text yields the fallback
// template, which is emitted without the disclaimer.
func (f *Formatter) Compose(raw string, strategy classifier.Strategy) string {
	if strategy == classifier.Emergency {
		return f.Emergency(language.English)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return f.fallbackTemplate
	}
	if f.disclaimer == "" {
		return raw
	}

	return raw + "\n\n" + f.disclaimer
}

// Fallback returns the English fallback template.
func (f *Formatter) Fallback() string {
	return f.fallbackTemplate
}

// Localize translates an English reply into target. Translation failures
// pass the English text through.
func (f *Formatter) Localize(ctx context.Context, text string, target string) string {
	target = language.Canonical(target)
	if target == "" || target == language.English {
		return text
	}

	return f.translator.Translate(ctx, text, language.English, target)
}

// Emergency builds the emergency reply without any network call: the
// localized banner when one is configured, the English banner, then the
// emergency template.
func (f *Formatter) Emergency(target string) string {
	parts := make([]string, 0, 3)

	if code := language.Canonical(target); code != "" && code != language.English {
		if localized, ok := f.localizedBanners[code]; ok {
			parts = append(parts, localized)
		}
	}
	if f.banner != "" {
		parts = append(parts, f.banner)
	}
	if f.emergencyTemplate != "" {
		parts = append(parts, f.emergencyTemplate)
	}

	return strings.Join(parts, "\n\n")
}
