package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/logging"
)

type failingStore struct{ err error }

func (f failingStore) Put(context.Context, Checkpoint) error { return f.err }
func (f failingStore) Get(context.Context, string) (Checkpoint, error) {
	return Checkpoint{}, f.err
}
func (f failingStore) Delete(context.Context, string) error { return f.err }

type slowStore struct{ MemoryStore }

func (s *slowStore) Put(ctx context.Context, _ Checkpoint) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCheckpointer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fixed := time.Unix(500, 0)
	cp := NewCheckpointer(NewMemoryStore(), func(o *CheckpointerOptions) {
		o.Clock = func() time.Time { return fixed }
	})

	st, found := cp.Load(ctx, "t1")
	assert.False(t, found)
	assert.Equal(t, "t1", st.ThreadID)

	require.NoError(t, cp.Save(ctx, sampleState("t1"), map[string]string{"node": "tools"}))

	st, found = cp.Load(ctx, "t1")
	require.True(t, found)
	assert.Len(t, st.Messages, 3)

	require.NoError(t, cp.Forget(ctx, "t1"))
	_, found = cp.Load(ctx, "t1")
	assert.False(t, found)
}

func TestCheckpointer_FailuresAreNonFatal(t *testing.T) {
	ctx := context.Background()
	cp := NewCheckpointer(failingStore{err: errors.New("disk full")})

	assert.Error(t, cp.Save(ctx, core.NewState("t1"), nil))

	st, found := cp.Load(ctx, "t1")
	assert.False(t, found)
	assert.Empty(t, st.Messages)
}

func TestCheckpointer_FailureLogKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	cp := NewCheckpointer(failingStore{err: errors.New("disk full")}, func(o *CheckpointerOptions) {
		o.Logger = logger
	})

	_ = cp.Save(context.Background(), core.NewState("t1"), nil)
	_, _ = cp.Load(context.Background(), "t1")

	assert.Contains(t, buf.String(), `"msg":"checkpoint.put.failed"`)
	assert.Contains(t, buf.String(), `"msg":"checkpoint.get.failed"`)
}

func TestCheckpointer_SaveTimesOut(t *testing.T) {
	cp := NewCheckpointer(&slowStore{}, func(o *CheckpointerOptions) {
		o.Timeout = 10 * time.Millisecond
	})

	err := cp.Save(context.Background(), core.NewState("t1"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckpointer_DiscardsInvalidHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	st := core.NewState("t1")
	st.Messages = []core.Message{core.NewToolMessage("ads", core.ToolCall{ID: "orphan", Name: "x"}, "r", false)}
	require.NoError(t, store.Put(ctx, Checkpoint{ThreadID: "t1", State: st}))

	got, found := NewCheckpointer(store).Load(ctx, "t1")
	assert.False(t, found)
	assert.Empty(t, got.Messages)
}
