/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/catalog"
	"github.com/hortator-ai/retool-gateway/internal/openai"
	"github.com/hortator-ai/retool-gateway/internal/retool"
	"github.com/hortator-ai/retool-gateway/internal/selector"
)

const claude = "anthropic-claude-3"

// scriptedRunner fails or succeeds per account domain and records the order
// accounts were tried in.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]error
	reply   string
	tried   []string
	prompts []string
}

func (r *scriptedRunner) Run(ctx context.Context, acct *account.Account, agentID, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tried = append(r.tried, acct.Domain)
	r.prompts = append(r.prompts, prompt)
	if !acct.HasAgent(agentID) {
		return "", errors.New("agent does not belong to account")
	}
	if err := r.results[acct.Domain]; err != nil {
		return "", err
	}
	return r.reply, nil
}

func upstreamErr(op retool.Op, domain string, status int) error {
	return retool.NewError(op, domain, status, "injected")
}

var _ = Describe("Orchestrator", func() {
	var (
		reg    *account.Registry
		sel    *selector.Selector
		runner *scriptedRunner
		orch   *Orchestrator
		now    time.Time
		msgs   []openai.Message
	)

	BeforeEach(func() {
		reg = account.NewRegistry([]account.Spec{{Domain: "a"}, {Domain: "b"}, {Domain: "c"}})
		for _, acct := range reg.All() {
			acct.SetAgents([]account.Agent{{ID: acct.Domain + "-opus", Name: "Opus", Model: "anthropic-claude-3-opus-v2"}})
		}
		now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		sel = selector.New(reg, catalog.Build(reg), selector.WithClock(func() time.Time { return now }))
		runner = &scriptedRunner{results: map[string]error{}, reply: "done"}
		orch = New(reg, sel, runner)
		msgs = []openai.Message{{Role: "user", Content: openai.Text("Hi")}}
	})

	Context("when the first account succeeds", func() {
		It("returns the text after one attempt", func() {
			res, err := orch.Complete(context.Background(), claude, msgs)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(Equal("done"))
			Expect(res.Attempts).To(Equal(1))
			Expect(res.Account).To(Equal("a"))
			Expect(res.AgentID).To(Equal("a-opus"))
			Expect(runner.prompts).To(Equal([]string{"Human: Hi"}))
		})
	})

	Context("when accounts fail", func() {
		It("fails over to the next account and penalizes the failed one", func() {
			runner.results["a"] = upstreamErr(retool.OpMessageSend, "a", 500)

			res, err := orch.Complete(context.Background(), claude, msgs)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Account).To(Equal("b"))
			Expect(res.Attempts).To(Equal(2))
			Expect(runner.tried).To(Equal([]string{"a", "b"}))

			a, _ := reg.ByDomain("a")
			Expect(a.Snapshot().ErrorCount).To(Equal(1))
			Expect(a.Valid()).To(BeTrue())
		})

		It("tries every account once and reports all errors in order", func() {
			runner.results["a"] = upstreamErr(retool.OpThreadCreate, "a", 502)
			runner.results["b"] = upstreamErr(retool.OpMessageGet, "b", 0)
			runner.results["c"] = upstreamErr(retool.OpMessageSend, "c", 500)

			_, err := orch.Complete(context.Background(), claude, msgs)
			var exhausted *ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Error()).To(Equal("All Retool accounts failed"))
			Expect(exhausted.Attempts).To(Equal(3))
			Expect(runner.tried).To(Equal([]string{"a", "b", "c"}))
			Expect(exhausted.Details).To(HaveLen(3))
			Expect(exhausted.Details[0].Op).To(Equal(retool.OpThreadCreate))
			Expect(exhausted.Details[1].Account).To(Equal("b"))
			Expect(exhausted.Details[2].Status).To(Equal(500))
		})

		It("counts only accounts actually tried", func() {
			c, _ := reg.ByDomain("c")
			c.Invalidate()
			runner.results["a"] = upstreamErr(retool.OpThreadCreate, "a", 500)
			runner.results["b"] = upstreamErr(retool.OpThreadCreate, "b", 500)

			_, err := orch.Complete(context.Background(), claude, msgs)
			var exhausted *ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Attempts).To(Equal(2))
			Expect(exhausted.Details).To(HaveLen(2))
		})

		It("reports zero attempts when nothing is eligible", func() {
			for _, acct := range reg.All() {
				acct.Invalidate()
			}
			_, err := orch.Complete(context.Background(), claude, msgs)
			var exhausted *ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Attempts).To(BeZero())
			Expect(exhausted.Details).To(BeEmpty())
			Expect(runner.tried).To(BeEmpty())
		})
	})

	Context("when an account fails authentication", func() {
		It("disables it for every later request, even past quarantine", func() {
			runner.results["a"] = upstreamErr(retool.OpThreadCreate, "a", 401)

			_, err := orch.Complete(context.Background(), claude, msgs)
			Expect(err).NotTo(HaveOccurred())
			a, _ := reg.ByDomain("a")
			Expect(a.Valid()).To(BeFalse())

			delete(runner.results, "a")
			for i := 0; i < 5; i++ {
				now = now.Add(time.Hour)
				res, err := orch.Complete(context.Background(), claude, msgs)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Account).NotTo(Equal("a"))
			}
		})
	})

	Context("when the request is invalid", func() {
		It("rejects unknown models without touching accounts", func() {
			_, err := orch.Complete(context.Background(), "gpt-5-turbo", msgs)
			Expect(err).To(MatchError(ErrUnknownModel))
			Expect(runner.tried).To(BeEmpty())
		})

		It("rejects an empty conversation", func() {
			_, err := orch.Complete(context.Background(), claude, nil)
			Expect(err).To(MatchError(ErrNoMessages))
		})
	})

	Context("when the caller goes away", func() {
		It("stops without penalizing the account", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			runner.results["a"] = context.Canceled

			_, err := orch.Complete(ctx, claude, msgs)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			a, _ := reg.ByDomain("a")
			Expect(a.Snapshot().ErrorCount).To(BeZero())
		})

		It("aborts mid-loop when a session returns the context error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			cancelling := &cancellingRunner{cancel: cancel}
			o := New(reg, sel, cancelling)

			_, err := o.Complete(ctx, claude, msgs)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(cancelling.calls).To(Equal(1))
			a, _ := reg.ByDomain("a")
			Expect(a.Snapshot().ErrorCount).To(BeZero())
		})
	})
})

type cancellingRunner struct {
	cancel context.CancelFunc
	calls  int
}

func (r *cancellingRunner) Run(ctx context.Context, _ *account.Account, _, _ string) (string, error) {
	r.calls++
	r.cancel()
	return "", ctx.Err()
}
