// Package agent drives one conversational turn: call the model, execute any
// python blocks in the reply, feed the results back, and collect the model's
// commentary. The turn is modeled as a small Finite State Machine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/codexec/codebot/internal/extract"
	"github.com/codexec/codebot/internal/logger"
	"github.com/codexec/codebot/internal/runner"
)

// FSM States
type FSMState stateless.State

var (
	StateReadyToCallLLM FSMState = "ReadyToCallLLM"
	StateExecutingCode  FSMState = "ExecutingCode"
	StateDone           FSMState = "Done"  // Terminal: turn complete
	StateError          FSMState = "Error" // Terminal: error state
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerProcessInput            FSMTrigger = "ProcessInput"
	TriggerLLMRespondedWithContent FSMTrigger = "LLMRespondedWithContent"
	TriggerLLMRespondedWithCode    FSMTrigger = "LLMRespondedWithCode"
	TriggerExecutionReported       FSMTrigger = "ExecutionReported"
	TriggerErrorOccurred           FSMTrigger = "ErrorOccurred"
)

// The language tag this agent executes; everything else in a reply is prose.
const targetLang = "python"

// Conversation is the slice of the session the agent needs.
type Conversation interface {
	Send(ctx context.Context, text string) (string, error)
}

// CodeRunner executes one source fragment. *runner.Runner satisfies it.
type CodeRunner interface {
	Run(ctx context.Context, source string) (runner.Result, error)
}

// Execution is one attempt at running one extracted block.
type Execution struct {
	Source  string
	Attempt int // 0 for the original block, 1.. for fix retries
	Result  runner.Result
}

// Turn is everything that happened while processing one user input, in the
// order the REPL should report it.
type Turn struct {
	Reply      string      // the model's reply to the user's input
	Executions []Execution // runs performed on that reply (and fixes)
	Replies    []string    // follow-up model replies (fix attempts, commentary)
}

// Commentary returns the model's final remark on the execution results,
// or "" when no code was run.
func (t Turn) Commentary() string {
	if len(t.Replies) == 0 {
		return ""
	}
	return t.Replies[len(t.Replies)-1]
}

// Agent wires the session to the code runner.
type Agent struct {
	conv          Conversation
	runner        CodeRunner
	maxFixRetries int
}

// New creates a new agent.
func New(conv Conversation, r CodeRunner, maxFixRetries int) *Agent {
	if maxFixRetries < 0 {
		maxFixRetries = 0
	}
	return &Agent{conv: conv, runner: r, maxFixRetries: maxFixRetries}
}

// phase tells ReadyToCallLLM what kind of reply it is waiting for.
type phase int

const (
	phaseInitial phase = iota // user input; reply may contain code
	phaseFix                  // fix request; reply may contain corrected code
	phaseComment              // result report; reply is commentary only
)

// Process runs one turn. Any execution outcome (failure, timeout) is data in
// the returned Turn; the error return is for session/transport faults only.
func (a *Agent) Process(ctx context.Context, input string) (Turn, error) {
	type fsmContext struct {
		pending     string // next message for the model
		phase       phase
		blocks      []extract.Block
		fixAttempts int
		turn        Turn
		lastError   error
		currentCall int
		maxCalls    int
	}

	fc := &fsmContext{
		pending: input,
		phase:   phaseInitial,
		// initial + per-fix (request+run) + final report
		maxCalls: 2*a.maxFixRetries + 3,
	}

	fsm := stateless.NewStateMachine(StateReadyToCallLLM)

	// State: ReadyToCallLLM
	// Action: send fc.pending, route on the reply per fc.phase.
	fsm.Configure(StateReadyToCallLLM).
		// Reentry on the starter trigger so the initial FireCtx below runs
		// this state's OnEntry; the machine does not do that on creation.
		PermitReentry(TriggerProcessInput).
		OnEntry(func(ctx context.Context, args ...any) error {
			if fc.currentCall >= fc.maxCalls {
				logger.L.Warn("max model calls reached for turn", "maxCalls", fc.maxCalls)
				fc.lastError = errors.New("exceeded maximum model calls for a single turn")
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fc.currentCall++
			logger.L.Debug("FSM: entering StateReadyToCallLLM", "call", fc.currentCall, "phase", fc.phase)

			reply, err := a.conv.Send(ctx, fc.pending)
			if err != nil {
				fc.lastError = err
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}

			switch fc.phase {
			case phaseInitial:
				fc.turn.Reply = reply
			default:
				fc.turn.Replies = append(fc.turn.Replies, reply)
			}

			if fc.phase == phaseComment {
				return fsm.FireCtx(ctx, TriggerLLMRespondedWithContent)
			}

			blocks := extract.Blocks(reply, targetLang)
			if len(blocks) == 0 {
				// A fix reply without code ends the turn with whatever the
				// model said; an initial reply without code is plain chat.
				return fsm.FireCtx(ctx, TriggerLLMRespondedWithContent)
			}
			if fc.phase == phaseFix {
				// Only the corrected block is re-run.
				blocks = blocks[:1]
			}
			fc.blocks = blocks
			return fsm.FireCtx(ctx, TriggerLLMRespondedWithCode)
		}).
		Permit(TriggerLLMRespondedWithCode, StateExecutingCode).
		Permit(TriggerLLMRespondedWithContent, StateDone).
		Permit(TriggerErrorOccurred, StateError)

	// State: ExecutingCode
	// Action: run fc.blocks in order, stop at first failure, then either
	// request a fix or report results. Both paths loop back to the LLM.
	fsm.Configure(StateExecutingCode).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering StateExecutingCode", "blocks", len(fc.blocks))

			var failed *runner.Result
			for _, block := range fc.blocks {
				res, err := a.runner.Run(ctx, block.Source)
				if err != nil {
					fc.lastError = fmt.Errorf("code runner: %w", err)
					return fsm.FireCtx(ctx, TriggerErrorOccurred)
				}
				fc.turn.Executions = append(fc.turn.Executions, Execution{
					Source:  block.Source,
					Attempt: fc.fixAttempts,
					Result:  res,
				})
				if res.Failed() {
					failed = &res
					break
				}
			}

			if failed != nil && !failed.TimedOut && fc.fixAttempts < a.maxFixRetries {
				fc.fixAttempts++
				fc.phase = phaseFix
				fc.pending = fixRequest(*failed)
				logger.L.Info("asking model to fix failing code", "attempt", fc.fixAttempts)
				return fsm.FireCtx(ctx, TriggerExecutionReported)
			}

			fc.phase = phaseComment
			fc.pending = resultReport(fc.turn.Executions, fc.fixAttempts)
			return fsm.FireCtx(ctx, TriggerExecutionReported)
		}).
		Permit(TriggerExecutionReported, StateReadyToCallLLM).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateDone).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering StateDone")
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering StateError")
			if fc.lastError == nil {
				fc.lastError = errors.New("FSM reached error state without a specific error")
			}
			return nil
		})

	// Transitions run synchronously inside FireCtx; when it returns the
	// machine is in a terminal state (or lastError is set).
	if err := fsm.FireCtx(ctx, TriggerProcessInput); err != nil {
		logger.L.Error("FSM fire failed", "error", err)
		if fc.lastError != nil {
			return fc.turn, fc.lastError
		}
		return fc.turn, fmt.Errorf("FSM error: %w", err)
	}

	currentState, err := fsm.State(ctx)
	if err != nil {
		return fc.turn, fmt.Errorf("FSM internal error: %w", err)
	}
	switch currentState {
	case StateDone:
		return fc.turn, nil
	case StateError:
		return fc.turn, fc.lastError
	default:
		return fc.turn, fmt.Errorf("FSM ended in an unexpected state: %v", currentState)
	}
}

// fixRequest is the message sent back when a block exits non-zero, matching
// the phrasing the system prompt primes the model for.
func fixRequest(res runner.Result) string {
	return fmt.Sprintf(
		"The code failed with the following error:\n\n%s\n\n"+
			"Please fix the code and provide a corrected version. "+
			"Make sure your solution handles the error case.",
		strings.TrimSpace(res.Stderr),
	)
}

// resultReport builds the feedback message the model is asked to comment on.
func resultReport(execs []Execution, fixAttempts int) string {
	last := execs[len(execs)-1].Result

	if last.TimedOut {
		return "The code execution timed out. This usually happens when the code has an " +
			"infinite loop or takes too long to execute. Could you explain what might have " +
			"caused the timeout and how to avoid it?"
	}
	if last.ExitCode != 0 {
		return fmt.Sprintf(
			"After %d retry attempts, the code still failed to execute properly. Final error:\n%s\n"+
				"Could you explain what might be causing this persistent issue?",
			fixAttempts, strings.TrimSpace(last.Stderr),
		)
	}

	// Earlier failed attempts were already reported through fix requests;
	// the success report covers the runs that completed.
	var ok []Execution
	for _, e := range execs {
		if !e.Result.Failed() {
			ok = append(ok, e)
		}
	}

	var b strings.Builder
	b.WriteString("The code has been executed successfully. Here is the output:\n")
	for i, e := range ok {
		if len(ok) > 1 {
			fmt.Fprintf(&b, "--- block %d ---\n", i+1)
		}
		out := e.Result.Stdout
		if out == "" {
			out = "(no output)\n"
		}
		b.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("Is there anything you'd like to explain about these results?")
	return b.String()
}
