package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveParticipantID(t *testing.T) {
	uid := DeriveParticipantID("u1")
	require.NotZero(t, uid)
	require.Equal(t, uid, DeriveParticipantID("u1"))
	require.NotEqual(t, uid, DeriveParticipantID("u2"))
}

func TestNewGuid(t *testing.T) {
	id := NewGuid(SessionPrefix)
	require.True(t, len(id) > len(SessionPrefix))
	require.Equal(t, SessionPrefix, id[:len(SessionPrefix)])
	require.NotEqual(t, id, NewGuid(SessionPrefix))
}

func TestChangeNotifier(t *testing.T) {
	n := NewChangeNotifier()
	require.False(t, n.HasObservers())

	var calls int
	n.AddObserver("a", func() { calls++ })
	n.AddObserver("b", func() { calls++ })
	require.True(t, n.HasObservers())

	n.NotifyChanged()
	require.Equal(t, 2, calls)

	n.RemoveObserver("a")
	n.NotifyChanged()
	require.Equal(t, 3, calls)
}

func TestChangeNotifierReentrant(t *testing.T) {
	n := NewChangeNotifier()
	n.AddObserver("a", func() {
		n.RemoveObserver("a")
	})
	// must not deadlock
	n.NotifyChanged()
	require.False(t, n.HasObservers())
}

func TestOpsQueueRunsInOrder(t *testing.T) {
	q := NewOpsQueue(nil, "test", 16)
	q.Start()
	defer q.Stop()

	var (
		lock sync.Mutex
		got  []int
		done = make(chan struct{})
	)
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() {
			lock.Lock()
			got = append(got, i)
			if len(got) == 5 {
				close(done)
			}
			lock.Unlock()
		})
	}
	<-done
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestOpsQueueEnqueueAfterStop(t *testing.T) {
	q := NewOpsQueue(nil, "test", 4)
	q.Start()
	q.Stop()
	q.Stop() // idempotent

	// must not panic on the closed channel
	q.Enqueue(func() { t.Fatal("op ran after stop") })
}
