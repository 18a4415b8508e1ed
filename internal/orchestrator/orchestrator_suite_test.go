/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package orchestrator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "orchestrator suite")
}
