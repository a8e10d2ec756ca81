// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/stagehand-ops/stagehand/internal/logging"

func dbLogf(format string, v ...any) {
	logging.Debugf(format, v...)
}
