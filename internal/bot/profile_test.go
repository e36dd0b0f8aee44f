package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
	"github.com/ops-euc-admin/ops-app-repo/internal/relay"
	"github.com/ops-euc-admin/ops-app-repo/internal/store"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	assert.Equal(t, TriggerBoth, p.Trigger)
	assert.Equal(t, store.ScopeThread, p.Scope)
	assert.Equal(t, DefaultCategories, p.Categories)
	assert.False(t, p.FileUpload)
	assert.NotNil(t, p.Prompt)
	assert.NotEmpty(t, p.PlaceholderText)
	assert.NotEmpty(t, p.ApologyText)
}

func TestProfileFromConfig_Defaults(t *testing.T) {
	p, err := ProfileFromConfig(config.ProfileConfig{Name: "bare"})
	require.NoError(t, err)

	assert.Equal(t, TriggerBoth, p.Trigger)
	assert.Equal(t, store.ScopeThread, p.Scope)
	assert.Equal(t, relay.DefaultUpdateInterval, p.UpdateInterval)
	assert.Equal(t, relay.DefaultMaxBytes, p.MaxMessageBytes)
	assert.Equal(t, store.DefaultDedupWindow, p.DedupWindow)
}

func TestProfileFromConfig_Custom(t *testing.T) {
	p, err := ProfileFromConfig(config.ProfileConfig{
		Name:              "image",
		Trigger:           "dm",
		ConversationScope: "user",
		Categories:        []string{"A", "B"},
		PromptTemplate:    "[{{.Category}}] {{.Text}}",
		FileUpload:        true,
		UpdateInterval:    time.Second,
		ConversationTTL:   time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, TriggerDM, p.Trigger)
	assert.Equal(t, store.ScopeUser, p.Scope)
	assert.Equal(t, []string{"A", "B"}, p.Categories)
	assert.True(t, p.FileUpload)
	assert.Equal(t, time.Hour, p.ConversationTTL)

	prompt, err := p.BuildPrompt("A", nil, "hello")
	require.NoError(t, err)
	assert.Equal(t, "[A] hello", prompt)
}

func TestProfileFromConfig_InvalidTemplate(t *testing.T) {
	_, err := ProfileFromConfig(config.ProfileConfig{Name: "broken", PromptTemplate: "{{.Category"})
	assert.Error(t, err)
}

func TestProfile_Accepts(t *testing.T) {
	tests := []struct {
		trigger string
		source  string
		want    bool
	}{
		{TriggerBoth, TriggerMention, true},
		{TriggerBoth, TriggerDM, true},
		{TriggerMention, TriggerMention, true},
		{TriggerMention, TriggerDM, false},
		{TriggerDM, TriggerDM, true},
		{TriggerDM, TriggerMention, false},
	}
	for _, tt := range tests {
		p := Profile{Trigger: tt.trigger}
		assert.Equal(t, tt.want, p.Accepts(tt.source), "trigger %s source %s", tt.trigger, tt.source)
	}
}

func TestProfile_IsAmbiguous(t *testing.T) {
	p := DefaultProfile()

	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"相談", true},
		{"質問です？", false},
		{"質問？", true},
		{"HELP", true},
		{"help me with VPN", false},
		{"相談 質問", false},
		{"PCが起動しません", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.IsAmbiguous(tt.text), "text %q", tt.text)
	}
}

func TestProfile_BuildPrompt(t *testing.T) {
	p := DefaultProfile()

	prompt, err := p.BuildPrompt("PC・端末", []string{"ネットワーク", "PC・端末"}, "起動しません")
	require.NoError(t, err)
	assert.Equal(t, "カテゴリ: PC・端末\n最近選択したカテゴリ: ネットワーク, PC・端末\n起動しません", prompt)

	prompt, err = p.BuildPrompt("", nil, "そのまま")
	require.NoError(t, err)
	assert.Equal(t, "そのまま", prompt)
}

func TestStripMention(t *testing.T) {
	assert.Equal(t, "hello", stripMention("<@UBOT> hello", "UBOT"))
	assert.Equal(t, "hello <@U2>", stripMention("<@UBOT> hello <@U2>", "UBOT"))
	assert.Equal(t, "hi", stripMention("<@UBOT|relay>hi", "UBOT"))
	assert.Equal(t, "hello", stripMention("<@UXYZ> hello", ""))
	assert.Equal(t, "", stripMention("<@UBOT>", "UBOT"))
}
