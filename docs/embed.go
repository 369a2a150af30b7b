// Copyright © 2024 The zs-debug-adapter authors

// Package docs embeds the user guide for use by the CLI.
package docs

import _ "embed"

//go:embed debugging-guide.md
var DebuggingGuide string
