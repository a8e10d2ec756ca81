// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars holds values injected at link time, for example
//
//	-ldflags "-X github.com/stagehand-ops/stagehand/buildvars.Version=v0.3.0"
//
// All of them are empty in local builds.
package buildvars

var (
	Version   string
	Commit    string
	BuildDate string // RFC3339
)

// VersionOrDefault returns Version if set, otherwise def.
func VersionOrDefault(def string) string {
	return orDefault(Version, def)
}

// CommitOrDefault returns Commit if set, otherwise def.
func CommitOrDefault(def string) string {
	return orDefault(Commit, def)
}

// BuildDateOrDefault returns BuildDate if set, otherwise def.
func BuildDateOrDefault(def string) string {
	return orDefault(BuildDate, def)
}

func orDefault(v, def string) string {
	if len(v) > 0 {
		return v
	}
	return def
}
