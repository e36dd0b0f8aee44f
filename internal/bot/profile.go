package bot

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/relay"
	"github.com/ops-euc-admin/ops-app-repo/internal/store"
)

// Triggers
const (
	TriggerMention = "mention"
	TriggerDM      = "dm"
	TriggerBoth    = "both"
)

// DefaultPromptTemplate renders a category pick into the question sent to Dify.
const DefaultPromptTemplate = `{{if .Category}}カテゴリ: {{.Category}}
{{end}}{{if .History}}最近選択したカテゴリ: {{join .History ", "}}
{{end}}{{.Text}}`

// DefaultCategories are offered when a profile configures none.
var DefaultCategories = []string{"アカウント・権限", "PC・端末", "ネットワーク", "ソフトウェア", "その他"}

// Profile is one bot variant: how it is triggered, how it keys conversations
// and how it asks for a category when a question is too vague.
type Profile struct {
	Name              string
	Trigger           string
	Scope             string
	Categories        []string
	AmbiguousKeywords []string
	Prompt            *template.Template
	FileUpload        bool
	ShowThoughts      bool
	UpdateInterval    time.Duration
	MaxMessageBytes   int
	PlaceholderText   string
	ApologyText       string
	DedupWindow       time.Duration
	ConversationTTL   time.Duration
}

// PromptData is what the prompt template sees.
type PromptData struct {
	Category string
	History  []string
	Text     string
}

// ProfileFromConfig builds a profile, filling what cfg leaves empty.
func ProfileFromConfig(cfg config.ProfileConfig) (Profile, error) {
	p := Profile{
		Name:              cfg.Name,
		Trigger:           cfg.Trigger,
		Scope:             cfg.ConversationScope,
		Categories:        cfg.Categories,
		AmbiguousKeywords: cfg.AmbiguousKeywords,
		FileUpload:        cfg.FileUpload,
		ShowThoughts:      cfg.ShowThoughts,
		UpdateInterval:    cfg.UpdateInterval,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		PlaceholderText:   cfg.PlaceholderText,
		ApologyText:       cfg.ApologyText,
		DedupWindow:       cfg.DedupWindow,
		ConversationTTL:   cfg.ConversationTTL,
	}
	if p.Trigger == "" {
		p.Trigger = TriggerBoth
	}
	if p.Scope == "" {
		p.Scope = store.ScopeThread
	}
	if len(p.Categories) == 0 {
		p.Categories = DefaultCategories
	}
	if p.UpdateInterval <= 0 {
		p.UpdateInterval = relay.DefaultUpdateInterval
	}
	if p.MaxMessageBytes <= 0 {
		p.MaxMessageBytes = relay.DefaultMaxBytes
	}
	if p.DedupWindow <= 0 {
		p.DedupWindow = store.DefaultDedupWindow
	}

	src := cfg.PromptTemplate
	if src == "" {
		src = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{"join": strings.Join}).Parse(src)
	if err != nil {
		return Profile{}, fmt.Errorf("invalid prompt template for profile %q: %w", p.Name, err)
	}
	p.Prompt = tmpl
	return p, nil
}

// DefaultProfile is the plain relay: mentions and DMs, thread-scoped
// conversations, no file upload.
func DefaultProfile() Profile {
	p, err := ProfileFromConfig(config.Default().Bot.Profile)
	if err != nil {
		panic(err)
	}
	return p
}

// Accepts reports whether the profile reacts to a message from source
// (TriggerMention or TriggerDM).
func (p Profile) Accepts(source string) bool {
	return p.Trigger == TriggerBoth || p.Trigger == source
}

// IsAmbiguous reports whether text is too vague to send as is: empty, or
// nothing but one of the ambiguous keywords.
func (p Profile) IsAmbiguous(text string) bool {
	text = strings.Trim(text, " \t\r\n　?？!！。.")
	if text == "" {
		return true
	}
	for _, kw := range p.AmbiguousKeywords {
		if strings.EqualFold(text, kw) {
			return true
		}
	}
	return false
}

// BuildPrompt renders the question for a category pick.
func (p Profile) BuildPrompt(category string, history []string, text string) (string, error) {
	var buf bytes.Buffer
	if err := p.Prompt.Execute(&buf, PromptData{Category: category, History: history, Text: text}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(\|[^>]*)?>`)

// stripMention removes mentions of botID from text. With an empty botID every
// user mention is removed.
func stripMention(text, botID string) string {
	out := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		id := mentionPattern.FindStringSubmatch(m)[1]
		if botID == "" || id == botID {
			return ""
		}
		return m
	})
	return strings.TrimSpace(out)
}
