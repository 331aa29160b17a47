package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckpointer struct {
	commits   int32
	pageCount uint32
}

func (f *fakeCheckpointer) Commit(ctx context.Context) error {
	atomic.AddInt32(&f.commits, 1)
	return nil
}

func (f *fakeCheckpointer) PageCount() uint32 { return f.pageCount }

func Test_Scheduler_RunsCheckpointOnSchedule(t *testing.T) {
	t.Parallel()

	fc := &fakeCheckpointer{pageCount: 7}
	s := NewScheduler(fc, nil, nil)

	require.NoError(t, s.Start("* * * * * *")) // every second
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fc.commits) > 0
	}, 3*time.Second, 50*time.Millisecond, "expected at least one checkpoint to have run")
}

func Test_Scheduler_StopIsIdempotentWhenNeverStarted(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&fakeCheckpointer{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func Test_Scheduler_RejectsInvalidCronExpression(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&fakeCheckpointer{}, nil, nil)
	err := s.Start("not a cron expression")
	assert.Error(t, err)
}
