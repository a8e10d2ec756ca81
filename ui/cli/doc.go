// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the stagehand command line using Cobra. Commands
// stay thin: they resolve configuration, build the runner, store and remote
// host, and hand off to the internal packages.
package cli
