package connectivity_test

import (
	"context"
	"testing"

	"github.com/cineview/cineview/internal/connectivity"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

func staticProber(online bool) connectivity.Prober {
	return func(context.Context) bool { return online }
}

func Test_New_InitialStateComesFromSynchronousProbe(t *testing.T) {
	assert.True(t, connectivity.New(connectivity.Config{}, staticProber(true)).IsOnline())
	assert.False(t, connectivity.New(connectivity.Config{}, staticProber(false)).IsOnline())
}

func Test_Subscribe_ImmediatelyCarriesSnapshot(t *testing.T) {
	monitor := connectivity.New(connectivity.Config{}, staticProber(true))

	ch := monitor.Subscribe()
	defer monitor.Unsubscribe(ch)

	select {
	case online := <-ch:
		assert.True(t, online)
	default:
		t.Fatal("expected initial snapshot on subscription channel")
	}
}

func Test_SetOnline_NotifiesOnlyOnTransition(t *testing.T) {
	monitor := connectivity.New(connectivity.Config{}, staticProber(false))

	ch := monitor.Subscribe()
	defer monitor.Unsubscribe(ch)
	require.False(t, <-ch)

	// Same state again must not produce a notification.
	monitor.SetOnline(false)
	select {
	case <-ch:
		t.Fatal("unexpected notification for non-transition")
	default:
	}

	monitor.SetOnline(true)
	select {
	case online := <-ch:
		assert.True(t, online)
	default:
		t.Fatal("expected notification for offline->online transition")
	}

	assert.True(t, monitor.IsOnline())
}

func Test_Unsubscribe_StopsDelivery(t *testing.T) {
	monitor := connectivity.New(connectivity.Config{}, staticProber(false))

	ch := monitor.Subscribe()
	<-ch
	monitor.Unsubscribe(ch)

	monitor.SetOnline(true)
	select {
	case <-ch:
		t.Fatal("unexpected notification after unsubscribe")
	default:
	}
}
