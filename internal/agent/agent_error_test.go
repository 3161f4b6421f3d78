package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codexec/codebot/internal/runner"
)

type failingConv struct{ err error }

func (c *failingConv) Send(ctx context.Context, text string) (string, error) {
	return "", c.err
}

type failingRunner struct{ err error }

func (r *failingRunner) Run(ctx context.Context, source string) (runner.Result, error) {
	return runner.Result{}, r.err
}

func TestProcess_SessionError(t *testing.T) {
	boom := errors.New("transport down")
	a := New(&failingConv{err: boom}, &scriptedRunner{}, 3)
	_, err := a.Process(context.Background(), "hi")
	require.ErrorIs(t, err, boom)
}

func TestProcess_RunnerInfrastructureError(t *testing.T) {
	conv := &scriptedConv{replies: []string{"```python\nprint(1)\n```"}}
	boom := errors.New("interpreter missing")
	a := New(conv, &failingRunner{err: boom}, 3)
	_, err := a.Process(context.Background(), "run something")
	require.ErrorIs(t, err, boom)
}
