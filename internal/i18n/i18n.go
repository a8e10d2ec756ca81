// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n provides localized user-facing messages for Stagehand.
// Translation files live in the embedded 'locales' directory and are loaded
// into a go-i18n bundle at startup.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// localeFS embeds the YAML translation files.
//
//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
)

// Init loads every embedded locale and selects lang. Unknown languages fall
// back to English.
func Init(lang string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		_, _ = b.ParseMessageFileBytes(data, f.Name())
	}

	chosen := language.English
	if tag, err := language.Parse(lang); err == nil {
		matcher := language.NewMatcher(b.LanguageTags())
		_, idx, conf := matcher.Match(tag)
		if conf != language.No {
			chosen = b.LanguageTags()[idx]
		}
	}

	mu.Lock()
	defer mu.Unlock()
	bundle = b
	localizer = i18n.NewLocalizer(b, chosen.String())
	current = chosen.String()
}

// GetLang returns the active language tag.
func GetLang() string {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// AvailableLocales lists the language tags shipped with the binary.
func AvailableLocales() []string {
	ensureInit()
	mu.RLock()
	defer mu.RUnlock()
	var out []string
	for _, t := range bundle.LanguageTags() {
		out = append(out, t.String())
	}
	sort.Strings(out)
	return out
}

// T translates messageID. Extra args are applied with fmt.Sprintf on the
// translated template. A missing translation yields the ID itself.
func T(messageID string, args ...any) string {
	ensureInit()
	mu.RLock()
	l := localizer
	mu.RUnlock()

	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil || msg == "" {
		return messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

func ensureInit() {
	mu.RLock()
	ready := localizer != nil
	mu.RUnlock()
	if !ready {
		Init("en")
	}
}
