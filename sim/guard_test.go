package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionGuard_NotifiesOncePerPass(t *testing.T) {
	rec := &recordingWriter{}
	sup, _ := newQueueSupervisor(t, StrategySerial, 1, 2, 1, rec)
	guard := sup.CollectorGuard()

	require.NoError(t, guard.Enter())
	_, err := sup.Reset(context.Background(), nil)
	require.NoError(t, err)

	// WHEN the guard is exited twice
	assert.NoError(t, guard.Exit(nil))
	assert.NoError(t, guard.Exit(nil))

	// THEN writers heard about the pass once
	assert.Equal(t, 1, rec.completes)
}

func TestCollectionGuard_SuppressesOnlyExhaustion(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "exhausted", in: ErrExhausted, want: nil},
		{name: "wrapped exhausted", in: errors.Join(errors.New("reset"), ErrExhausted), want: nil},
		{name: "other", in: errBoom, want: errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingWriter{}
			sup, _ := newQueueSupervisor(t, StrategySerial, 1, 1, 1, rec)

			err := sup.Collect(context.Background(), func(context.Context) error { return tt.in })

			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, 1, rec.completes)
		})
	}
}

func TestCollectionGuard_ReentryForbidden(t *testing.T) {
	sup, _ := newQueueSupervisor(t, StrategySerial, 1, 1, 1)

	guard := sup.CollectorGuard()
	require.NoError(t, guard.Enter())

	// WHEN a second guard is opened on the same session
	assert.ErrorIs(t, sup.CollectorGuard().Enter(), ErrInvalidState)
	// AND the first guard is entered again
	assert.ErrorIs(t, guard.Enter(), ErrInvalidState)

	require.NoError(t, guard.Exit(nil))
	// THEN a used guard cannot be reopened, but a new one can
	assert.ErrorIs(t, guard.Enter(), ErrInvalidState)
	fresh := sup.CollectorGuard()
	require.NoError(t, fresh.Enter())
	require.NoError(t, fresh.Exit(nil))
}

func TestCollectionGuard_TerminalSessionCannotBeReentered(t *testing.T) {
	sup, _ := newQueueSupervisor(t, StrategySerial, 1, 0, 1)
	ctx := context.Background()

	err := sup.Collect(ctx, func(ctx context.Context) error {
		_, err := sup.Reset(ctx, nil)
		return err
	})
	require.NoError(t, err)
	require.True(t, sup.Terminal())

	err = sup.Collect(ctx, func(context.Context) error {
		t.Fatal("body ran on a terminal session")
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCollectionGuard_PanicStillNotifies(t *testing.T) {
	rec := &recordingWriter{}
	sup, _ := newQueueSupervisor(t, StrategySerial, 1, 1, 1, rec)

	assert.Panics(t, func() {
		_ = sup.Collect(context.Background(), func(context.Context) error {
			panic("collector bug")
		})
	})

	assert.Equal(t, 1, rec.completes)
	// the session is no longer guarded, so a new pass can start
	require.NoError(t, sup.CollectorGuard().Enter())
}

func TestCollectionGuard_ExitWithoutEnterIsNoop(t *testing.T) {
	rec := &recordingWriter{}
	sup, _ := newQueueSupervisor(t, StrategySerial, 1, 1, 1, rec)

	assert.ErrorIs(t, sup.CollectorGuard().Exit(ErrExhausted), ErrExhausted)
	assert.Equal(t, 0, rec.completes)
}
