// Kestrel - Local-first SAR narrative generation with a full audit trail.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"os"

	"github.com/opensource-finance/kestrel/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
