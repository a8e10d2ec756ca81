// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every message ID passed to i18n.T exists in the
// primary locale and that every other locale carries the same IDs.
//
// Run it from the repository root:
//
//	go run ./tools/i18n-linter
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

var callRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)

// report is the outcome of one lint run.
type report struct {
	Undefined map[string][]string // used in code, absent from the primary locale
	Orphaned  []string            // in the primary locale, never used
	Missing   map[string][]string // locale file -> IDs it lacks
}

func (r report) failed() bool {
	return len(r.Undefined) > 0 || len(r.Missing) > 0
}

func main() {
	os.Exit(run(".", os.Stdout))
}

func run(root string, out io.Writer) int {
	r, err := lint(root)
	if err != nil {
		fmt.Fprintf(out, "i18n-linter: %v\n", err)
		return 2
	}
	printReport(out, r)
	if r.failed() {
		return 1
	}
	return 0
}

func lint(root string) (report, error) {
	r := report{Undefined: map[string][]string{}, Missing: map[string][]string{}}

	used, err := findUsedKeys(root)
	if err != nil {
		return r, fmt.Errorf("scanning sources: %w", err)
	}
	dir := filepath.Join(root, localesDir)
	primary, err := loadKeysFromLocale(filepath.Join(dir, primaryLocale))
	if err != nil {
		return r, fmt.Errorf("loading %s: %w", primaryLocale, err)
	}

	for key, locs := range used {
		if _, ok := primary[key]; !ok {
			r.Undefined[key] = locs
		}
	}
	for key := range primary {
		if _, ok := used[key]; !ok {
			r.Orphaned = append(r.Orphaned, key)
		}
	}
	sort.Strings(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return r, err
	}
	for _, f := range files {
		if filepath.Base(f) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(f)
		if err != nil {
			return r, fmt.Errorf("loading %s: %w", filepath.Base(f), err)
		}
		var missing []string
		for key := range primary {
			if _, ok := keys[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			r.Missing[filepath.Base(f)] = missing
		}
	}
	return r, nil
}

func printReport(out io.Writer, r report) {
	undefined := make([]string, 0, len(r.Undefined))
	for key := range r.Undefined {
		undefined = append(undefined, key)
	}
	sort.Strings(undefined)
	for _, key := range undefined {
		fmt.Fprintf(out, "undefined: %s (%s)\n", key, strings.Join(r.Undefined[key], ", "))
	}

	locales := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		locales = append(locales, f)
	}
	sort.Strings(locales)
	for _, f := range locales {
		for _, key := range r.Missing[f] {
			fmt.Fprintf(out, "missing in %s: %s\n", f, key)
		}
	}

	for _, key := range r.Orphaned {
		fmt.Fprintf(out, "orphaned: %s\n", key)
	}
	if !r.failed() && len(r.Orphaned) == 0 {
		fmt.Fprintln(out, "all locales are consistent")
	}
}

// findUsedKeys maps every ID passed to i18n.T to the places it is used.
// Tests, tools and the example pack are skipped.
func findUsedKeys(root string) (map[string][]string, error) {
	keys := make(map[string][]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (name == "tools" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, m := range callRe.FindAllStringSubmatch(line, -1) {
				rel, _ := filepath.Rel(root, path)
				keys[m[1]] = append(keys[m[1]], fmt.Sprintf("%s:%d", filepath.ToSlash(rel), i+1))
			}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts nested maps into dot-separated keys. Flat files pass
// through unchanged.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
