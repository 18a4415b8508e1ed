/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package main

import (
	"os"

	"github.com/hortator-ai/retool-gateway/cmd/retool-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
