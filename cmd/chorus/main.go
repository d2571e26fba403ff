// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chorus - chat with several language models at once.
package main

import (
	"os"

	"github.com/morganforge/chorus/internal/cli"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

func main() {
	os.Exit(cli.Execute(Version))
}
