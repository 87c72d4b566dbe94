package bus

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// syncBuffer guards a bytes.Buffer so tests can read it while the consumer
// runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type count struct {
	mu sync.Mutex
	n  int
}

func (c *count) Inc() { c.mu.Lock(); c.n++; c.mu.Unlock() }

func TestBus_FIFO(t *testing.T) {
	var out syncBuffer
	b := New(&out, 4, nil)
	b.Start()

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publishf("line %d", i))
	}
	b.Close()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 20)
	for i, l := range lines {
		assert.Equal(t, fmt.Sprintf("line %d", i), l)
	}
}

func TestBus_PerProducerOrder(t *testing.T) {
	var out syncBuffer
	b := New(&out, 8, nil)
	c := &count{}
	b.SetCounter(c)
	b.Start()

	const producers, each = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = b.Publishf("p%d %d", p, i)
			}
		}(p)
	}
	wg.Wait()
	b.Close()

	next := make(map[string]int)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, producers*each)
	for _, l := range lines {
		var p string
		var i int
		_, err := fmt.Sscanf(l, "%s %d", &p, &i)
		require.NoError(t, err)
		assert.Equal(t, next[p], i, "producer %s out of order", p)
		next[p] = i + 1
	}
	assert.Equal(t, producers*each, c.n)
}

func TestBus_MultiLineMessageStaysTogether(t *testing.T) {
	var out syncBuffer
	b := New(&out, 0, nil)
	b.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Publishf("begin %d\nmiddle %d\nend %d", i, i, i)
		}(i)
	}
	wg.Wait()
	b.Close()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 30)
	for j := 0; j < len(lines); j += 3 {
		var i int
		_, err := fmt.Sscanf(lines[j], "begin %d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("middle %d", i), lines[j+1])
		assert.Equal(t, fmt.Sprintf("end %d", i), lines[j+2])
	}
}

func TestBus_CloseDrainsWithoutStart(t *testing.T) {
	var out syncBuffer
	b := New(&out, 3, nil)

	require.NoError(t, b.Publish("a"))
	require.NoError(t, b.Publish("b"))
	b.Close()

	assert.Equal(t, "a\nb\n", out.String())
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(&syncBuffer{}, 1, nil)
	b.Start()
	b.Close()
	b.Close() // idempotent

	err := b.Publish("late")
	assert.True(t, errors.Is(err, apperrors.ErrBusClosed))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestBus_WriterErrorDoesNotStopConsumer(t *testing.T) {
	b := New(failingWriter{}, 1, nil)
	c := &count{}
	b.SetCounter(c)
	b.Start()

	require.NoError(t, b.Publish("one"))
	require.NoError(t, b.Publish("two"))
	b.Close()

	assert.Equal(t, 0, c.n)
}
