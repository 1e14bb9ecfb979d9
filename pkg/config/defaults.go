package config

import "strings"

const (
	DefaultDeadlineMs          = 15000
	DefaultConfidenceThreshold = 0.5
	DefaultLanguageTimeoutMs   = 5000
	DefaultReasoningTimeoutMs  = 8000
	DefaultSearchTimeoutMs     = 8000
	DefaultSummarizerTimeoutMs = 4000
	DefaultAttempts            = 2
	DefaultRateWindowMs        = 60000
	DefaultGatewayHost         = "0.0.0.0"
	DefaultGatewayPort         = 18790
	DefaultSenderRatePerMinute = 6
	DefaultSenderBurst         = 3
	DefaultProbeIntervalSecs   = 30
	DefaultStorePath           = "carebot.db"

	DefaultDisclaimer        = "⚠️ This is not medical advice. Please consult a healthcare professional for medical concerns."
	DefaultEmergencyBanner   = "🚨 MEDICAL EMERGENCY: Call your local emergency number (112 / 911) now."
	DefaultEmergencyTemplate = "If this is a medical emergency, please call your local emergency number immediately. I cannot provide emergency medical care."
	DefaultFallbackTemplate  = "I'm temporarily unable to process this, please consult a healthcare professional."
	DefaultBroadcastMessage  = "Hello! The health assistant is now online and ready to help. 🤖"
)

// DefaultEmergencyLexicon lists phrases that always route to the emergency response.
var DefaultEmergencyLexicon = []string{
	"emergency",
	"chest pain",
	"heart attack",
	"stroke",
	"can't breathe",
	"cannot breathe",
	"trouble breathing",
	"difficulty breathing",
	"suicide",
	"kill myself",
	"overdose",
	"severe bleeding",
	"unconscious",
	"seizure",
}

// DefaultSearchLexicon lists freshness cues that route to live search.
var DefaultSearchLexicon = []string{
	"latest",
	"recent",
	"current",
	"news",
	"this year",
	"new treatment",
	"newest",
	"update",
}

// DefaultLocalizedBanners holds emergency banners shown next to the English one.
var DefaultLocalizedBanners = map[string]string{
	"es": "🚨 EMERGENCIA MÉDICA: Llama ahora a tu número local de emergencias (112 / 911).",
	"fr": "🚨 URGENCE MÉDICALE : Appelez immédiatement votre numéro d'urgence local (112 / 15).",
	"de": "🚨 MEDIZINISCHER NOTFALL: Rufen Sie sofort den Notruf (112) an.",
	"pt": "🚨 EMERGÊNCIA MÉDICA: Ligue agora para o número de emergência local (112 / 192).",
	"hi": "🚨 चिकित्सा आपातकाल: तुरंत अपने स्थानीय आपातकालीन नंबर (112) पर कॉल करें।",
}

// ApplyDefaults fills every unset option with its built-in default.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	p := &cfg.Pipeline
	if p.DeadlineMs <= 0 {
		p.DeadlineMs = DefaultDeadlineMs
	}
	if p.LanguageConfidenceThreshold == nil {
		threshold := DefaultConfidenceThreshold
		p.LanguageConfidenceThreshold = &threshold
	}
	if len(p.EmergencyLexicon) == 0 {
		p.EmergencyLexicon = append([]string(nil), DefaultEmergencyLexicon...)
	}
	if len(p.SearchLexicon) == 0 {
		p.SearchLexicon = append([]string(nil), DefaultSearchLexicon...)
	}
	if strings.TrimSpace(p.Disclaimer) == "" {
		p.Disclaimer = DefaultDisclaimer
	}
	if strings.TrimSpace(p.EmergencyBanner) == "" {
		p.EmergencyBanner = DefaultEmergencyBanner
	}
	if p.LocalizedBanners == nil {
		p.LocalizedBanners = make(map[string]string, len(DefaultLocalizedBanners))
		for lang, banner := range DefaultLocalizedBanners {
			p.LocalizedBanners[lang] = banner
		}
	}
	if strings.TrimSpace(p.EmergencyTemplate) == "" {
		p.EmergencyTemplate = DefaultEmergencyTemplate
	}
	if strings.TrimSpace(p.FallbackTemplate) == "" {
		p.FallbackTemplate = DefaultFallbackTemplate
	}

	applyUpstreamDefaults(&cfg.Providers.Reasoning, UpstreamConfig{
		BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
		Model:     "gemini-1.5-flash",
		APIKeyEnv: "GEMINI_API_KEY",
		TimeoutMs: DefaultReasoningTimeoutMs,
		RateLimit: RateLimitConfig{WindowMs: DefaultRateWindowMs, Quota: 15},
	})
	applyUpstreamDefaults(&cfg.Providers.Search, UpstreamConfig{
		BaseURL:   "https://api.perplexity.ai",
		Model:     "llama-3.1-sonar-small-128k-online",
		APIKeyEnv: "PERPLEXITY_API_KEY",
		TimeoutMs: DefaultSearchTimeoutMs,
		RateLimit: RateLimitConfig{WindowMs: DefaultRateWindowMs, Quota: 50},
	})
	applyUpstreamDefaults(&cfg.Providers.Summarizer, UpstreamConfig{
		BaseURL:   "https://api.groq.com/openai/v1",
		Model:     "llama-3.1-70b-versatile",
		APIKeyEnv: "GROQ_API_KEY",
		TimeoutMs: DefaultSummarizerTimeoutMs,
		RateLimit: RateLimitConfig{WindowMs: DefaultRateWindowMs, Quota: 30},
	})

	if strings.TrimSpace(cfg.Language.APIKeyEnv) == "" {
		cfg.Language.APIKeyEnv = "TRANSLATE_API_KEY"
	}
	if cfg.Language.TimeoutMs <= 0 {
		cfg.Language.TimeoutMs = DefaultLanguageTimeoutMs
	}

	if strings.TrimSpace(cfg.Channels.Telegram.BroadcastMessage) == "" {
		cfg.Channels.Telegram.BroadcastMessage = DefaultBroadcastMessage
	}

	g := &cfg.Gateway
	if strings.TrimSpace(g.Host) == "" {
		g.Host = DefaultGatewayHost
	}
	if g.Port <= 0 {
		g.Port = DefaultGatewayPort
	}
	if g.SenderRatePerMinute <= 0 {
		g.SenderRatePerMinute = DefaultSenderRatePerMinute
	}
	if g.SenderBurst <= 0 {
		g.SenderBurst = DefaultSenderBurst
	}
	if g.ProbeIntervalSecs <= 0 {
		g.ProbeIntervalSecs = DefaultProbeIntervalSecs
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath
	}
}

func applyUpstreamDefaults(dst *UpstreamConfig, def UpstreamConfig) {
	if strings.TrimSpace(dst.BaseURL) == "" {
		dst.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(dst.Model) == "" {
		dst.Model = def.Model
	}
	if strings.TrimSpace(dst.APIKeyEnv) == "" {
		dst.APIKeyEnv = def.APIKeyEnv
	}
	if dst.TimeoutMs <= 0 {
		dst.TimeoutMs = def.TimeoutMs
	}
	if dst.Attempts <= 0 {
		dst.Attempts = DefaultAttempts
	}
	if dst.RateLimit.WindowMs <= 0 {
		dst.RateLimit.WindowMs = def.RateLimit.WindowMs
	}
	if dst.RateLimit.Quota <= 0 {
		dst.RateLimit.Quota = def.RateLimit.Quota
	}
}
