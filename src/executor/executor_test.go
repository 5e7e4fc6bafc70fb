package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestExecuteSimpleCommand(t *testing.T) {
	res, err := Execute(context.Background(), "echo", []string{"hi"}, Options{MaxStdoutLines: 100, MaxStderrLines: 100})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "hi" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestTruncationHeadTail(t *testing.T) {
	args := []string{"1", "100"}
	res, err := Execute(context.Background(), "seq", args, Options{MaxStdoutLines: 20, MaxStderrLines: 20})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(res.Stdout, "1\n") {
		t.Fatalf("expected stdout to start with 1, got %q", res.Stdout[:20])
	}
	if !strings.HasSuffix(strings.TrimRight(res.Stdout, "\n"), "100") {
		t.Fatalf("expected stdout to end with 100, got %q", res.Stdout[len(res.Stdout)-20:])
	}
	if !strings.Contains(res.Stdout, "[... 80 lines omitted ...]") {
		t.Fatalf("expected omitted-lines marker, got %q", res.Stdout)
	}
	if res.Truncation == nil || !res.Truncation.Stdout.Truncated {
		t.Fatalf("expected stdout truncation flagged, got %+v", res.Truncation)
	}
}

func TestOutputExactlyAtCapIsNotTruncated(t *testing.T) {
	content := strings.Repeat("x\n", 20)
	content = strings.TrimSuffix(content, "\n")
	out, trunc := truncateStream(content, 20)
	if trunc.Truncated {
		t.Fatalf("expected no truncation when line count equals cap, got %+v", trunc)
	}
	if out != content {
		t.Fatalf("expected unchanged content, got %q", out)
	}
}

func TestTimeoutProducesETIMEDOUT(t *testing.T) {
	res, err := Execute(context.Background(), "sleep", []string{"5"}, Options{
		Timeout:        100 * time.Millisecond,
		MaxStdoutLines: 100,
		MaxStderrLines: 100,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.TimedOut || res.Error != "ETIMEDOUT" || res.ExitCode != -1 {
		t.Fatalf("expected ETIMEDOUT result, got %+v", res)
	}
}

func TestNonZeroExitIsNotAnError(t *testing.T) {
	res, err := Execute(context.Background(), "false", nil, Options{MaxStdoutLines: 10, MaxStderrLines: 10})
	if err != nil {
		t.Fatalf("expected no error for a normal non-zero exit, got %v", err)
	}
	if res.Success || res.ExitCode == 0 {
		t.Fatalf("expected success=false with non-zero exit, got %+v", res)
	}
}

func TestBinaryOutputDetection(t *testing.T) {
	content := "hello\x00world"
	out, trunc := truncateStream(content, 100)
	if out != "[Binary output detected - content omitted]" {
		t.Fatalf("unexpected binary marker: %q", out)
	}
	if !trunc.Truncated {
		t.Fatal("expected truncated=true for binary content")
	}
}

func TestLongLineDetection(t *testing.T) {
	content := strings.Repeat("a", MaxSingleLineLen+1)
	out, trunc := truncateStream(content, 100)
	if out != "[Output contains extremely long lines - content omitted]" {
		t.Fatalf("unexpected long-line marker: %q", out)
	}
	if !trunc.Truncated {
		t.Fatal("expected truncated=true for an overlong line")
	}
}

func TestEmptyCommandIsInvalid(t *testing.T) {
	_, err := Execute(context.Background(), "", nil, Options{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func ExampleExecute() {
	res, _ := Execute(context.Background(), "echo", []string{"hello"}, Options{MaxStdoutLines: 10, MaxStderrLines: 10})
	fmt.Println(strings.TrimSpace(res.Stdout))
	// Output: hello
}
