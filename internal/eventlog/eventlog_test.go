package eventlog

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestEveryEventEmittedOnceQueuedOrDropped(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	log.SetLevel(log.DebugLevel)

	s := New(4)
	const total = 50
	for i := 0; i < total; i++ {
		s.Info("test", "action", "ok", map[string]any{"i": i})
	}
	s.Close()

	require.Len(t, hook.AllEntries(), total)
}

func TestLogNeverBlocksOnFullQueue(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	s := New(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Warn("test", "burst", "ok", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a full event queue")
	}
	s.Close()
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	s := New(100)
	s.Info("test", "a", "ok", nil)
	s.Info("test", "b", "ok", nil)
	s.Close()

	require.GreaterOrEqual(t, len(hook.AllEntries()), 2)
}
