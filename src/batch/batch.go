// Package batch implements the Batch Planner (C7): sequential or bounded-
// parallel execution of a command plan with per-command conditions and
// fixed-delay retries.
package batch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/opslane/shellsup/src/executor"
	"github.com/opslane/shellsup/src/shellerr"
)

// ConditionSource names where a condition reads its left-hand value from.
type ConditionSource string

const (
	SourceExitCode        ConditionSource = "exitCode"
	SourceStdout          ConditionSource = "stdout"
	SourceStderr          ConditionSource = "stderr"
	SourceSuccess         ConditionSource = "success"
	SourcePreviousCommand ConditionSource = "previousCommand"
)

// ConditionOperator names the comparison a condition applies.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "notEquals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "notContains"
	OpMatches     ConditionOperator = "matches"
	OpGreaterThan ConditionOperator = "greaterThan"
	OpLessThan    ConditionOperator = "lessThan"
)

// Condition gates whether a BatchCommand runs.
type Condition struct {
	Source      ConditionSource   `json:"source"`
	Operator    ConditionOperator `json:"operator"`
	Value       any               `json:"value"`
	TargetIndex *int              `json:"targetIndex,omitempty"`
}

// RetryPolicy configures a command's retry loop.
type RetryPolicy struct {
	RetryCount int           `json:"retryCount"`
	RetryDelay time.Duration `json:"retryDelay"`
}

// Command is one entry in a batch plan.
type Command struct {
	Command         string            `json:"command"`
	Args            []string          `json:"args,omitempty"`
	Cwd             string            `json:"cwd,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	ContinueOnError bool              `json:"continueOnError,omitempty"`
	Condition       *Condition        `json:"condition,omitempty"`
	Retry           *RetryPolicy      `json:"retry,omitempty"`
	MaxStdoutLines  int               `json:"maxStdoutLines,omitempty"`
	MaxStderrLines  int               `json:"maxStderrLines,omitempty"`
}

// Result is one command's outcome within a batch run.
type Result struct {
	ID         string                    `json:"id"`
	Index      int                       `json:"index"`
	Command    string                    `json:"command"`
	Args       []string                  `json:"args,omitempty"`
	Success    bool                      `json:"success"`
	ExitCode   int                       `json:"exitCode"`
	Stdout     string                    `json:"stdout"`
	Stderr     string                    `json:"stderr"`
	Duration   time.Duration             `json:"duration"`
	Skipped    bool                      `json:"skipped,omitempty"`
	SkipReason string                    `json:"skipReason,omitempty"`
	Retries    int                       `json:"retries,omitempty"`
	Truncation *executor.StreamTruncation `json:"truncation,omitempty"`
}

// Plan is a batch run's aggregated outcome.
type Plan struct {
	BatchID         string        `json:"batchId"`
	Results         []Result      `json:"results"`
	TotalCommands   int           `json:"totalCommands"`
	ExecutedCount   int           `json:"executedCount"`
	SkippedCount    int           `json:"skippedCount"`
	SuccessCount    int           `json:"successCount"`
	FailureCount    int           `json:"failureCount"`
	TotalDuration   time.Duration `json:"totalDuration"`
	Parallel        bool          `json:"parallel"`
	OutputTruncated bool          `json:"outputTruncated,omitempty"`
}

// Options configures a single Run call.
type Options struct {
	Parallel           bool
	MaxParallel        int
	Timeout            time.Duration
	StopOnFirstFailure bool
	Cwd                string
	Env                map[string]string
	// MaxStdoutLines/MaxStderrLines are the plan-level truncation caps
	// applied to any command that doesn't set its own.
	MaxStdoutLines int
	MaxStderrLines int
}

// Run executes commands either sequentially or with bounded parallelism,
// depending on opts.Parallel.
func Run(ctx context.Context, commands []Command, opts Options) (*Plan, error) {
	if len(commands) == 0 {
		return nil, shellerr.Invalidf("batch plan must contain at least one command")
	}
	for i, cmd := range commands {
		if cmd.Command == "" {
			return nil, shellerr.Invalidf("command %d must not be empty", i)
		}
	}

	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	plan := &Plan{
		BatchID:       uuid.NewString(),
		Results:       make([]Result, len(commands)),
		TotalCommands: len(commands),
		Parallel:      opts.Parallel,
	}

	if opts.Parallel {
		runParallel(ctx, commands, opts, plan)
	} else {
		runSequential(ctx, commands, opts, plan)
	}

	plan.TotalDuration = time.Since(start)
	for _, r := range plan.Results {
		switch {
		case r.Skipped:
			plan.SkippedCount++
		case r.Success:
			plan.ExecutedCount++
			plan.SuccessCount++
		default:
			plan.ExecutedCount++
			plan.FailureCount++
		}
		if r.Truncation != nil && (r.Truncation.Stdout.Truncated || r.Truncation.Stderr.Truncated) {
			plan.OutputTruncated = true
		}
	}
	return plan, nil
}

func runSequential(ctx context.Context, commands []Command, opts Options, plan *Plan) {
	for i, cmd := range commands {
		if cmd.Condition != nil {
			ok, reason := evaluateCondition(*cmd.Condition, plan.Results, i)
			if !ok {
				plan.Results[i] = Result{ID: uuid.NewString(), Index: i, Command: cmd.Command, Args: cmd.Args, Skipped: true, SkipReason: reason}
				continue
			}
		}

		result := executeWithRetry(ctx, cmd, i, opts)
		plan.Results[i] = result

		if !result.Success {
			if opts.StopOnFirstFailure || (!cmd.ContinueOnError && (cmd.Retry == nil || cmd.Retry.RetryCount == 0)) {
				plan.Results = plan.Results[:i+1]
				return
			}
		}
	}
}

func runParallel(ctx context.Context, commands []Command, opts Options, plan *Plan) {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	var aborted sync.Once
	stop := make(chan struct{})

	for i, cmd := range commands {
		if cmd.Condition != nil {
			plan.Results[i] = Result{ID: uuid.NewString(), Index: i, Command: cmd.Command, Args: cmd.Args, Skipped: true, SkipReason: "Conditions not supported in parallel mode"}
			continue
		}

		select {
		case <-stop:
			plan.Results[i] = Result{ID: uuid.NewString(), Index: i, Command: cmd.Command, Args: cmd.Args, Skipped: true, SkipReason: "Batch aborted after prior failure"}
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cmd Command) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-stop:
				plan.Results[i] = Result{ID: uuid.NewString(), Index: i, Command: cmd.Command, Args: cmd.Args, Skipped: true, SkipReason: "Batch aborted after prior failure"}
				return
			default:
			}

			result := executeWithRetry(ctx, cmd, i, opts)
			plan.Results[i] = result
			if !result.Success && opts.StopOnFirstFailure {
				aborted.Do(func() { close(stop) })
			}
		}(i, cmd)
	}
	wg.Wait()
}

func executeWithRetry(ctx context.Context, cmd Command, index int, opts Options) Result {
	retryCount := 0
	var delay time.Duration
	if cmd.Retry != nil {
		retryCount = cmd.Retry.RetryCount
		delay = cmd.Retry.RetryDelay
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retryCount))
	bo.Reset()

	id := uuid.NewString()
	var last *executor.Result
	attempts := 0

retryLoop:
	for {
		attempts++
		res, err := executor.Execute(ctx, cmd.Command, cmd.Args, executor.Options{
			Cwd:            firstNonEmpty(cmd.Cwd, opts.Cwd),
			Env:            mergeEnv(opts.Env, cmd.Env),
			MaxStdoutLines: firstPositive(cmd.MaxStdoutLines, opts.MaxStdoutLines),
			MaxStderrLines: firstPositive(cmd.MaxStderrLines, opts.MaxStderrLines),
		})
		if err != nil {
			last = &executor.Result{Command: cmd.Command, Success: false, Error: err.Error(), ExitCode: -1}
		} else {
			last = res
		}

		if last.Success {
			break
		}
		next := bo.NextBackOff()
		if next == backoff.Stop {
			break
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			break retryLoop
		case <-timer.C:
		}
	}

	return Result{
		ID:         id,
		Index:      index,
		Command:    cmd.Command,
		Args:       cmd.Args,
		Success:    last.Success,
		ExitCode:   last.ExitCode,
		Stdout:     last.Stdout,
		Stderr:     last.Stderr,
		Duration:   last.Duration,
		Retries:    attempts - 1,
		Truncation: last.Truncation,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func mergeEnv(base, override map[string]string) map[string]string {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// evaluateCondition resolves a condition against the results produced so
// far, defaulting targetIndex to the previous executed non-skipped command.
func evaluateCondition(c Condition, results []Result, currentIndex int) (bool, string) {
	target := currentIndex - 1
	if c.TargetIndex != nil {
		target = *c.TargetIndex
	} else {
		for i := currentIndex - 1; i >= 0; i-- {
			if !results[i].Skipped {
				target = i
				break
			}
		}
	}

	if target < 0 || target >= currentIndex || results[target].Skipped {
		return false, fmt.Sprintf("condition target index %d is out of range or skipped", target)
	}

	t := results[target]
	var ok bool
	switch c.Source {
	case SourceExitCode:
		ok = compareNumber(float64(t.ExitCode), c.Operator, c.Value)
	case SourceSuccess:
		ok = compareBool(t.Success, c.Operator, c.Value)
	case SourceStdout:
		ok = compareString(t.Stdout, c.Operator, c.Value)
	case SourceStderr:
		ok = compareString(t.Stderr, c.Operator, c.Value)
	case SourcePreviousCommand:
		ok = compareString(t.Command, c.Operator, c.Value)
	default:
		return false, fmt.Sprintf("unknown condition source %q", c.Source)
	}

	if !ok {
		return false, fmt.Sprintf("condition on %s(%d) %s %v not satisfied", c.Source, target, c.Operator, c.Value)
	}
	return true, ""
}

func compareNumber(actual float64, op ConditionOperator, value any) bool {
	want, ok := toFloat(value)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return actual == want
	case OpNotEquals:
		return actual != want
	case OpGreaterThan:
		return actual > want
	case OpLessThan:
		return actual < want
	default:
		return false
	}
}

func compareBool(actual bool, op ConditionOperator, value any) bool {
	want, ok := value.(bool)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return actual == want
	case OpNotEquals:
		return actual != want
	default:
		return false
	}
}

func compareString(actual string, op ConditionOperator, value any) bool {
	want, ok := value.(string)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return actual == want
	case OpNotEquals:
		return actual != want
	case OpContains:
		return regexp.MustCompile(regexp.QuoteMeta(want)).MatchString(actual)
	case OpNotContains:
		return !regexp.MustCompile(regexp.QuoteMeta(want)).MatchString(actual)
	case OpMatches:
		re, err := regexp.Compile(want)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
