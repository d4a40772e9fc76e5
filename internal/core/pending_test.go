package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingMessagesIDsAreUniqueAndMonotonic(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")

	id1, _ := p.Create(0, false)
	id2, _ := p.Create(0, false)

	require.NotEqual(t, id1, id2)
	require.Equal(t, "1", id1)
	require.Equal(t, "2", id2)
	require.Equal(t, 2, p.Len())
}

func TestPendingMessagesResolveDeliversOnce(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	id, result := p.Create(0, false)

	p.Resolve(id, json.RawMessage(`{"ok":true}`))
	// A second resolve for an already-settled id must be silently ignored.
	p.Resolve(id, json.RawMessage(`{"ok":false}`))

	res := <-result
	require.NoError(t, res.err)
	require.JSONEq(t, `{"ok":true}`, string(res.data))
	require.Equal(t, 0, p.Len())
}

func TestPendingMessagesRejectDeliversError(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	id, result := p.Create(0, false)

	want := errors.New("upstream failure")
	p.Reject(id, want)

	res := <-result
	require.Equal(t, want, res.err)
}

func TestPendingMessagesTimeoutFires(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	_, result := p.Create(5*time.Millisecond, false)

	res := <-result
	require.ErrorIs(t, res.err, ErrTimeout)
	require.Equal(t, 0, p.Len())
}

func TestPendingMessagesTimeoutLosesRaceToResolve(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	id, result := p.Create(20*time.Millisecond, false)

	p.Resolve(id, json.RawMessage(`1`))
	time.Sleep(30 * time.Millisecond) // let the timer fire if it was going to

	res := <-result
	require.NoError(t, res.err)
	require.JSONEq(t, `1`, string(res.data))
}

func TestPendingMessagesCancelMassRejectsWithCancelledKind(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	_, r1 := p.Create(0, false)
	_, r2 := p.Create(0, true)

	p.Cancel("core.example", errors.New("disconnect requested"))

	res1 := <-r1
	res2 := <-r2
	require.ErrorIs(t, res1.err, ErrCancelled)
	require.ErrorIs(t, res2.err, ErrCancelled)
	require.Equal(t, 0, p.Len())
}

func TestPendingMessagesDeleteDiscardsWithoutSettling(t *testing.T) {
	p := NewPendingMessages(nil, "core.example")
	id, result := p.Create(0, false)

	p.Delete(id)
	require.Equal(t, 0, p.Len())

	select {
	case <-result:
		t.Fatal("deleted entry must not be settled")
	default:
	}
}
