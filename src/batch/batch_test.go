package batch

import (
	"context"
	"testing"
	"time"
)

func TestSequentialBatchConditional(t *testing.T) {
	zero := 0
	plan, err := Run(context.Background(), []Command{
		{Command: "true"},
		{Command: "echo", Args: []string{"ok"}, Condition: &Condition{Source: SourceSuccess, Operator: OpEquals, Value: true, TargetIndex: &zero}},
		{Command: "echo", Args: []string{"skip"}, Condition: &Condition{Source: SourceExitCode, Operator: OpEquals, Value: float64(1), TargetIndex: &zero}},
	}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(plan.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(plan.Results))
	}
	if !plan.Results[0].Success || !plan.Results[1].Success {
		t.Fatalf("expected index 0 and 1 to succeed, got %+v", plan.Results)
	}
	if !plan.Results[2].Skipped {
		t.Fatalf("expected index 2 to be skipped, got %+v", plan.Results[2])
	}
	if plan.SuccessCount != 2 || plan.SkippedCount != 1 {
		t.Fatalf("expected successCount=2 skippedCount=1, got successCount=%d skippedCount=%d", plan.SuccessCount, plan.SkippedCount)
	}
}

func TestStopOnFirstFailureHaltsSequentialPlan(t *testing.T) {
	plan, err := Run(context.Background(), []Command{
		{Command: "false"},
		{Command: "echo", Args: []string{"never"}},
	}, Options{StopOnFirstFailure: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if plan.Results[0].Success {
		t.Fatal("expected first command to fail")
	}
	if len(plan.Results) != 1 {
		t.Fatalf("expected no result after a stop-on-failure, got %d results: %+v", len(plan.Results), plan.Results)
	}
}

func TestParallelModeSkipsConditions(t *testing.T) {
	cond := &Condition{Source: SourceSuccess, Operator: OpEquals, Value: true}
	plan, err := Run(context.Background(), []Command{
		{Command: "true"},
		{Command: "echo", Args: []string{"x"}, Condition: cond},
	}, Options{Parallel: true, MaxParallel: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !plan.Results[1].Skipped || plan.Results[1].SkipReason != "Conditions not supported in parallel mode" {
		t.Fatalf("expected condition to be skipped in parallel mode, got %+v", plan.Results[1])
	}
}

func TestParallelModePreservesIndexOrder(t *testing.T) {
	plan, err := Run(context.Background(), []Command{
		{Command: "echo", Args: []string{"0"}},
		{Command: "echo", Args: []string{"1"}},
		{Command: "echo", Args: []string{"2"}},
	}, Options{Parallel: true, MaxParallel: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, r := range plan.Results {
		if r.Index != i {
			t.Fatalf("expected result %d to carry index %d, got %d", i, i, r.Index)
		}
	}
}

func TestRetryPolicyRetriesUntilSuccessOrExhaustion(t *testing.T) {
	plan, err := Run(context.Background(), []Command{
		{Command: "false", Retry: &RetryPolicy{RetryCount: 2, RetryDelay: time.Millisecond}},
	}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if plan.Results[0].Retries != 2 {
		t.Fatalf("expected 2 retries after exhausting the policy, got %d", plan.Results[0].Retries)
	}
	if plan.Results[0].Success {
		t.Fatal("expected a command that always fails to remain unsuccessful")
	}
}

func TestConditionTargetOutOfRangeEvaluatesFalse(t *testing.T) {
	bogus := 5
	ok, reason := evaluateCondition(Condition{Source: SourceSuccess, Operator: OpEquals, Value: true, TargetIndex: &bogus}, []Result{{Success: true}}, 1)
	if ok {
		t.Fatal("expected an out-of-range target index to evaluate false")
	}
	if reason == "" {
		t.Fatal("expected a skip reason")
	}
}

func TestConditionMatchesInvalidRegexEvaluatesFalse(t *testing.T) {
	ok, _ := evaluateCondition(Condition{Source: SourceStdout, Operator: OpMatches, Value: "(unterminated"}, []Result{{Stdout: "anything"}}, 1)
	if ok {
		t.Fatal("expected an invalid regex to evaluate false rather than error")
	}
}

func TestRunRejectsEmptyPlan(t *testing.T) {
	if _, err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected an error for an empty plan")
	}
}

func TestRunRejectsBlankCommand(t *testing.T) {
	if _, err := Run(context.Background(), []Command{{Command: ""}}, Options{}); err == nil {
		t.Fatal("expected an error for a blank command")
	}
}
