package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/slack-go/slack"
)

const (
	categoryBlockID      = "category_form"
	categoryActionPrefix = "category_"
	formHeading          = "ご相談の内容に近いカテゴリを選んでください。"

	// Slack rejects button values over 2000 characters.
	maxButtonValue = 2000
)

// formState travels in each category button's value.
type formState struct {
	Category string   `json:"c"`
	Text     string   `json:"t,omitempty"`
	ThreadTS string   `json:"th"`
	Files    []string `json:"f,omitempty"`
}

var errFormValueTooLarge = errors.New("category form value exceeds the button value limit")

// encode shortens Text, then drops trailing Files, until the value fits.
func (s formState) encode() (string, error) {
	for {
		data, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		if utf8.RuneCount(data) <= maxButtonValue {
			return string(data), nil
		}
		switch {
		case s.Text != "":
			runes := []rune(s.Text)
			s.Text = string(runes[:len(runes)/2])
		case len(s.Files) > 0:
			s.Files = s.Files[:len(s.Files)-1]
		default:
			return "", errFormValueTooLarge
		}
	}
}

func decodeFormState(value string) (formState, error) {
	var s formState
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return s, fmt.Errorf("decode category form value: %w", err)
	}
	return s, nil
}

// categoryForm builds the message asking the user to pick a category.
func categoryForm(categories []string, text, threadTS string, files []string) ([]slack.Block, error) {
	buttons := make([]slack.BlockElement, 0, len(categories))
	for i, category := range categories {
		value, err := formState{Category: category, Text: text, ThreadTS: threadTS, Files: files}.encode()
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, slack.NewButtonBlockElement(
			categoryActionPrefix+strconv.Itoa(i),
			value,
			slack.NewTextBlockObject(slack.PlainTextType, category, false, false),
		))
	}

	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, formHeading, false, false), nil, nil),
		slack.NewActionBlock(categoryBlockID, buttons...),
	}, nil
}

func confirmationText(category string) string {
	return fmt.Sprintf("カテゴリ「%s」で受け付けました。", category)
}

func confirmationBlocks(category string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, confirmationText(category), false, false), nil, nil),
	}
}
