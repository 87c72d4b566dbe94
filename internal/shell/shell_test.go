package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	mu        sync.Mutex
	lines     []string
	shutdowns int
	block     chan struct{} // when set, "slow" commands wait on it
	shutdown  error
}

func (f *fakeExec) Execute(_ context.Context, line string) (bool, error) {
	if strings.HasPrefix(line, "slow") && f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.lines = append(f.lines, line)
	f.mu.Unlock()
	if line == "fail" {
		return false, errors.New("boom")
	}
	return line == "exit", nil
}

func (f *fakeExec) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.shutdown
}

func (f *fakeExec) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type prompts struct {
	mu sync.Mutex
	n  int
}

func (p *prompts) Publish(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg == Prompt {
		p.n++
	}
	return nil
}

func TestShell_RunsUntilExit(t *testing.T) {
	exec := &fakeExec{}
	in := strings.NewReader("add a.png\n\n   \nfail\nlist\nexit\nlist\n")

	err := New(exec, in, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"add a.png", "fail", "list", "exit"}, exec.seen())
	assert.Equal(t, 1, exec.shutdowns)
}

func TestShell_EOFShutsDown(t *testing.T) {
	exec := &fakeExec{}

	err := New(exec, strings.NewReader("list"), Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"list"}, exec.seen())
	assert.Equal(t, 1, exec.shutdowns)
}

func TestShell_ShutdownErrorReturned(t *testing.T) {
	exec := &fakeExec{shutdown: errors.New("tasks still running")}

	err := New(exec, strings.NewReader("exit\n"), Options{}).Run(context.Background())
	assert.ErrorContains(t, err, "tasks still running")
}

func TestShell_PromptOnlyWhenInteractive(t *testing.T) {
	input := "list\nlist\nexit\n"

	p := &prompts{}
	require.NoError(t, New(&fakeExec{}, strings.NewReader(input), Options{Prompt: p}).Run(context.Background()))
	assert.Equal(t, 0, p.n)

	p = &prompts{}
	require.NoError(t, New(&fakeExec{}, strings.NewReader(input), Options{Prompt: p, Interactive: true}).Run(context.Background()))
	assert.Equal(t, 3, p.n)
}

func TestShell_AsyncJoinsInflightBeforeShutdown(t *testing.T) {
	exec := &fakeExec{block: make(chan struct{})}
	in := strings.NewReader("slow 1\nlist\nexit\n")

	done := make(chan error, 1)
	go func() { done <- New(exec, in, Options{Async: true}).Run(context.Background()) }()

	// The fast command and exit get through while the slow one is blocked.
	require.Eventually(t, func() bool { return len(exec.seen()) == 2 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("Run returned before the in-flight command finished")
	case <-time.After(20 * time.Millisecond):
	}
	exec.mu.Lock()
	assert.Equal(t, 0, exec.shutdowns)
	exec.mu.Unlock()

	close(exec.block)
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{"slow 1", "list", "exit"}, exec.seen())
	assert.Equal(t, 1, exec.shutdowns)
}

type blockingReader struct{ ch chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ch
	return 0, errors.New("closed")
}

func TestShell_ContextCancelStopsReading(t *testing.T) {
	exec := &fakeExec{}
	r := blockingReader{ch: make(chan struct{})}
	defer close(r.ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(exec, r, Options{}).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, exec.shutdowns)
}
