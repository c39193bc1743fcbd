// Package settings holds the persisted display preferences.
package settings

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

type FontSize string

const (
	FontSmall  FontSize = "small"
	FontMedium FontSize = "medium"
	FontLarge  FontSize = "large"
)

// Language is a recognition language offered to the user.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguages lists the languages offered in the picker. Other valid
// BCP-47 tags are still accepted.
var SupportedLanguages = []Language{
	{Code: "en-US", Name: "English (US)"},
	{Code: "en-GB", Name: "English (UK)"},
	{Code: "es-ES", Name: "Spanish"},
	{Code: "fr-FR", Name: "French"},
	{Code: "de-DE", Name: "German"},
	{Code: "it-IT", Name: "Italian"},
	{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	{Code: "ja-JP", Name: "Japanese"},
	{Code: "ko-KR", Name: "Korean"},
	{Code: "zh-CN", Name: "Chinese (Simplified)"},
}

type Preferences struct {
	Language       string   `json:"language" yaml:"language"`
	FontSize       FontSize `json:"font_size" yaml:"font_size"`
	AutoScroll     bool     `json:"auto_scroll" yaml:"auto_scroll"`
	ShowTimestamps bool     `json:"show_timestamps" yaml:"show_timestamps"`
}

func Defaults() Preferences {
	return Preferences{
		Language:       "en-US",
		FontSize:       FontLarge,
		AutoScroll:     true,
		ShowTimestamps: true,
	}
}

func (p Preferences) Validate() error {
	tag := strings.TrimSpace(p.Language)
	if tag == "" {
		return fmt.Errorf("invalid language tag %q", p.Language)
	}
	if _, err := language.Parse(tag); err != nil {
		return fmt.Errorf("invalid language tag %q: %w", p.Language, err)
	}
	switch p.FontSize {
	case FontSmall, FontMedium, FontLarge:
	default:
		return fmt.Errorf("invalid font size %q: expected small, medium or large", p.FontSize)
	}
	return nil
}
