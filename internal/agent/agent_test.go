package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codexec/codebot/internal/runner"
)

// scriptedConv returns canned replies in order and records what was sent.
type scriptedConv struct {
	sent    []string
	replies []string
}

func (c *scriptedConv) Send(ctx context.Context, text string) (string, error) {
	c.sent = append(c.sent, text)
	if len(c.replies) == 0 {
		panic("scriptedConv: no more replies configured for: " + text)
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

// scriptedRunner returns canned results in order and records sources run.
type scriptedRunner struct {
	run     []string
	results []runner.Result
}

func (r *scriptedRunner) Run(ctx context.Context, source string) (runner.Result, error) {
	r.run = append(r.run, source)
	if len(r.results) == 0 {
		panic("scriptedRunner: no more results configured")
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

func TestProcess_PlainChatNoCode(t *testing.T) {
	conv := &scriptedConv{replies: []string{"Hi! Nothing to run here."}}
	run := &scriptedRunner{}

	turn, err := New(conv, run, 3).Process(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "Hi! Nothing to run here.", turn.Reply)
	require.Empty(t, turn.Executions)
	require.Empty(t, turn.Commentary())
	require.Empty(t, run.run, "no code blocks means nothing is executed")
	require.Equal(t, []string{"hello"}, conv.sent)
}

func TestProcess_CodeExecutedAndResultFedBack(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"Sure:\n```python\nprint(2+2)\n```\nThat adds.",
		"4 is the sum, as expected.",
	}}
	run := &scriptedRunner{results: []runner.Result{{ExitCode: 0, Stdout: "4\n"}}}

	turn, err := New(conv, run, 3).Process(context.Background(), "add 2 and 2")
	require.NoError(t, err)
	require.Len(t, turn.Executions, 1)
	require.Equal(t, "print(2+2)\n", turn.Executions[0].Source)
	require.Equal(t, "4 is the sum, as expected.", turn.Commentary())

	// The feedback message carries the captured stdout.
	require.Len(t, conv.sent, 2)
	require.Contains(t, conv.sent[1], "executed successfully")
	require.Contains(t, conv.sent[1], "4\n")
}

func TestProcess_AllBlocksRunInOrder(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"```python\nprint('a')\n```\nthen\n```python\nprint('b')\n```",
		"Both ran.",
	}}
	run := &scriptedRunner{results: []runner.Result{
		{ExitCode: 0, Stdout: "a\n"},
		{ExitCode: 0, Stdout: "b\n"},
	}}

	turn, err := New(conv, run, 3).Process(context.Background(), "two blocks")
	require.NoError(t, err)
	require.Equal(t, []string{"print('a')\n", "print('b')\n"}, run.run)
	require.Len(t, turn.Executions, 2)
	require.Contains(t, conv.sent[1], "--- block 1 ---")
	require.Contains(t, conv.sent[1], "--- block 2 ---")
}

func TestProcess_StopsAtFirstFailingBlock(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"```python\nraise SystemExit(1)\n```\n```python\nprint('never')\n```",
		// Fix reply without code ends the turn.
		"I cannot fix that without more detail.",
	}}
	run := &scriptedRunner{results: []runner.Result{
		{ExitCode: 1, Stderr: "SystemExit: 1\n"},
	}}

	turn, err := New(conv, run, 3).Process(context.Background(), "fail fast")
	require.NoError(t, err)
	require.Len(t, run.run, 1, "blocks after the failing one must not run")
	require.Len(t, turn.Executions, 1)
}

func TestProcess_FixRetryOnFailure(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"```python\nprint(1/0)\n```",
		"Oops, corrected:\n```python\nprint('fixed')\n```",
		"That worked this time.",
	}}
	run := &scriptedRunner{results: []runner.Result{
		{ExitCode: 1, Stderr: "ZeroDivisionError: division by zero\n"},
		{ExitCode: 0, Stdout: "fixed\n"},
	}}

	turn, err := New(conv, run, 3).Process(context.Background(), "divide by zero")
	require.NoError(t, err)
	require.Len(t, turn.Executions, 2)
	require.Equal(t, 0, turn.Executions[0].Attempt)
	require.Equal(t, 1, turn.Executions[1].Attempt)
	require.Equal(t, "That worked this time.", turn.Commentary())

	// Fix request carries the stderr; final report carries the fixed output.
	require.Contains(t, conv.sent[1], "ZeroDivisionError")
	require.Contains(t, conv.sent[1], "Please fix the code")
	require.Contains(t, conv.sent[2], "executed successfully")
	require.Contains(t, conv.sent[2], "fixed\n")
	require.NotContains(t, conv.sent[2], "--- block", "failed attempt is not re-reported")
}

func TestProcess_FixRetriesCapped(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"```python\nbroken()\n```",
		"Try:\n```python\nstill_broken()\n```",
		"This persists because the function does not exist.",
	}}
	run := &scriptedRunner{results: []runner.Result{
		{ExitCode: 1, Stderr: "NameError: broken\n"},
		{ExitCode: 1, Stderr: "NameError: still_broken\n"},
	}}

	turn, err := New(conv, run, 1).Process(context.Background(), "hopeless")
	require.NoError(t, err)
	require.Len(t, turn.Executions, 2, "one original run plus one fix attempt")
	// After the cap, the failure is reported for commentary, not retried.
	require.Contains(t, conv.sent[2], "still failed to execute")
	require.Contains(t, conv.sent[2], "NameError: still_broken")
}

func TestProcess_TimeoutNeverRetried(t *testing.T) {
	conv := &scriptedConv{replies: []string{
		"```python\nwhile True: pass\n```",
		"An infinite loop caused the timeout.",
	}}
	run := &scriptedRunner{results: []runner.Result{{TimedOut: true, ExitCode: -1}}}

	turn, err := New(conv, run, 3).Process(context.Background(), "loop forever")
	require.NoError(t, err)
	require.Len(t, run.run, 1, "a timeout must not trigger a fix retry")
	require.True(t, turn.Executions[0].Result.TimedOut)
	require.Contains(t, conv.sent[1], "timed out")
	require.Equal(t, "An infinite loop caused the timeout.", turn.Commentary())
}

func TestProcess_CommentaryCodeNotExecuted(t *testing.T) {
	// Code in the model's final commentary must not start another cycle.
	conv := &scriptedConv{replies: []string{
		"```python\nprint('hi')\n```",
		"For reference you could also:\n```python\nprint('not this one')\n```",
	}}
	run := &scriptedRunner{results: []runner.Result{{ExitCode: 0, Stdout: "hi\n"}}}

	turn, err := New(conv, run, 3).Process(context.Background(), "say hi")
	require.NoError(t, err)
	require.Len(t, run.run, 1)
	require.True(t, strings.Contains(turn.Commentary(), "not this one"))
}
