package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabcanvas/crdtdoc"
	"collabcanvas/presence"
)

// stubDoc records merged updates. EncodeState joins them, so tests can check
// that snapshots reflect exactly the accepted update history.
type stubDoc struct {
	merged [][]byte
	failOn string
}

func (d *stubDoc) Merge(update []byte) error {
	if d.failOn != "" && string(update) == d.failOn {
		return errors.New("malformed update")
	}
	d.merged = append(d.merged, append([]byte(nil), update...))
	return nil
}

func (d *stubDoc) EncodeState() ([]byte, error) {
	return bytes.Join(d.merged, []byte(";")), nil
}

type sentEvent struct {
	event   string
	payload interface{}
}

type fakeSender struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *fakeSender) Send(event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{event: event, payload: payload})
	return nil
}

func (s *fakeSender) received(event string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payloads []interface{}
	for _, e := range s.events {
		if e.event == event {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestRegistry() (*Registry, map[string]*stubDoc) {
	docs := make(map[string]*stubDoc)
	factory := crdtdoc.Factory(func(docID string) (crdtdoc.Document, error) {
		doc := &stubDoc{}
		docs[docID] = doc
		return doc, nil
	})
	return NewRegistry(factory, zap.NewNop()), docs
}

func TestJoinAnnouncesToExistingParticipants(t *testing.T) {
	reg, _ := newTestRegistry()

	alice := &fakeSender{}
	_, aliceState, err := reg.Join("p1", "conn-a", "alice", "Alice", alice)
	require.NoError(t, err)
	require.Len(t, aliceState.Users, 1)
	assert.Equal(t, "alice", aliceState.Users[0].ID)
	assert.Equal(t, presence.ColorAt(0), aliceState.Color)

	bob := &fakeSender{}
	_, bobState, err := reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)
	require.Len(t, bobState.Users, 2)
	assert.Equal(t, presence.ColorAt(1), bobState.Color)

	joined := alice.received(EventUserJoined)
	require.Len(t, joined, 1)
	msg := joined[0].(UserJoinedMessage)
	assert.Equal(t, "bob", msg.User.ID)
	assert.Len(t, msg.Users, 2)

	// The joiner itself gets no broadcast; it initializes from JoinState.
	assert.Empty(t, bob.received(EventUserJoined))
}

func TestDocUpdateRelayedVerbatimAndNotEchoed(t *testing.T) {
	reg, docs := newTestRegistry()

	alice := &fakeSender{}
	bob := &fakeSender{}
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", alice)
	require.NoError(t, err)
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)

	update := []byte(`delta-1`)
	require.NoError(t, r.ApplyUpdate("conn-a", update))

	relayed := bob.received(EventDocUpdate)
	require.Len(t, relayed, 1)
	assert.Equal(t, update, relayed[0].(DocUpdateMessage).Update)
	assert.Empty(t, alice.received(EventDocUpdate))

	assert.Equal(t, [][]byte{update}, docs["p1"].merged)
}

func TestLeaveAnnouncesAndDrainsRoom(t *testing.T) {
	reg, _ := newTestRegistry()

	alice := &fakeSender{}
	bob := &fakeSender{}
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", alice)
	require.NoError(t, err)
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)

	r.Leave("conn-b")
	left := alice.received(EventUserLeft)
	require.Len(t, left, 1)
	msg := left[0].(UserLeftMessage)
	assert.Equal(t, "bob", msg.UserID)
	assert.Len(t, msg.Users, 1)

	// One participant remains, so the room stays registered.
	assert.Equal(t, 1, r.ParticipantCount())
	_, ok := reg.Get("p1")
	assert.True(t, ok)

	r.Leave("conn-a")
	assert.Equal(t, 0, r.ParticipantCount())
	_, ok = reg.Get("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestLeaveUnknownConnectionIsNoOp(t *testing.T) {
	reg, _ := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)

	r.Leave("conn-ghost")
	r.Leave("conn-ghost")
	assert.Equal(t, 1, r.ParticipantCount())
	_, ok := reg.Get("p1")
	assert.True(t, ok)
}

func TestRoomReportsCreationTime(t *testing.T) {
	reg, _ := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)

	assert.Equal(t, "p1", r.ID())
	assert.WithinDuration(t, time.Now(), r.CreatedAt(), time.Second)
}

func TestSnapshotReflectsMergedHistory(t *testing.T) {
	reg, _ := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", &fakeSender{})
	require.NoError(t, err)

	require.NoError(t, r.ApplyUpdate("conn-a", []byte("d1")))
	require.NoError(t, r.ApplyUpdate("conn-b", []byte("d2")))

	state, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("d1;d2"), state)
}

func TestMalformedUpdateIsIsolated(t *testing.T) {
	reg, docs := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	bob := &fakeSender{}
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)

	docs["p1"].failOn = "garbage"

	err = r.ApplyUpdate("conn-a", []byte("garbage"))
	assert.Error(t, err)
	// The bad update is dropped: nothing merged, nothing relayed.
	assert.Empty(t, bob.received(EventDocUpdate))
	assert.Empty(t, docs["p1"].merged)

	// The room and the offending connection keep operating.
	require.NoError(t, r.ApplyUpdate("conn-a", []byte("good")))
	assert.Len(t, bob.received(EventDocUpdate), 1)
	assert.Equal(t, 2, r.ParticipantCount())
}

func TestPresenceNeverTouchesDocument(t *testing.T) {
	reg, docs := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	bob := &fakeSender{}
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)

	before, err := r.Snapshot()
	require.NoError(t, err)

	r.SetCursor("conn-a", presence.Cursor{X: 5, Y: 6})
	r.SetSelection("conn-a", []string{"item-1", "item-2"})
	r.SetCursor("conn-a", presence.Cursor{X: 7, Y: 8})

	after, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, docs["p1"].merged)

	cursors := bob.received(EventCursorUpdate)
	require.Len(t, cursors, 2)
	last := cursors[1].(CursorUpdateMessage)
	assert.Equal(t, "alice", last.UserID)
	assert.Equal(t, presence.Cursor{X: 7, Y: 8}, last.Cursor)
	assert.NotEmpty(t, last.Color)

	selections := bob.received(EventSelectionUpdate)
	require.Len(t, selections, 1)
	sel := selections[0].(SelectionUpdateMessage)
	assert.Equal(t, []string{"item-1", "item-2"}, sel.SelectedIDs)

	state, ok := r.Presence("conn-a")
	require.True(t, ok)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, presence.Cursor{X: 7, Y: 8}, *state.Cursor)
}

func TestRelayPassesOperationThroughUntouched(t *testing.T) {
	reg, docs := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	bob := &fakeSender{}
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", bob)
	require.NoError(t, err)

	op := json.RawMessage(`{"type":"bring-to-front","ids":["s1"]}`)
	r.Relay("conn-a", op)

	ops := bob.received(EventCanvasOperation)
	require.Len(t, ops, 1)
	msg := ops[0].(CanvasOperationMessage)
	assert.Equal(t, op, msg.Operation)
	assert.Equal(t, "alice", msg.FromUserID)

	// Opaque operations never reach the document.
	assert.Empty(t, docs["p1"].merged)
}

func TestOperationsFromUnknownConnectionAreIgnored(t *testing.T) {
	reg, docs := newTestRegistry()
	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)

	assert.NoError(t, r.ApplyUpdate("conn-ghost", []byte("d1")))
	r.SetCursor("conn-ghost", presence.Cursor{X: 1, Y: 1})
	r.SetSelection("conn-ghost", []string{"a"})
	r.Relay("conn-ghost", json.RawMessage(`{}`))

	assert.Empty(t, docs["p1"].merged)
	assert.Equal(t, 1, r.ParticipantCount())
}

func TestColorsUniqueWithinPaletteSize(t *testing.T) {
	reg, _ := newTestRegistry()

	seen := make(map[string]bool)
	for i := 0; i < presence.PaletteSize(); i++ {
		connID := string(rune('a' + i))
		_, state, err := reg.Join("p1", "conn-"+connID, "user-"+connID, "User", &fakeSender{})
		require.NoError(t, err)
		assert.False(t, seen[state.Color], "color %s assigned twice", state.Color)
		seen[state.Color] = true
	}
}

func TestColorsStayUniqueUnderChurn(t *testing.T) {
	reg, _ := newTestRegistry()

	// Alice stays while a full palette's worth of participants cycle
	// through; the next join must not collide with her color.
	r, aliceState, err := reg.Join("p1", "conn-alice", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)

	for i := 0; i < presence.PaletteSize(); i++ {
		connID := "conn-churn-" + string(rune('a'+i))
		_, _, err := reg.Join("p1", connID, "churn", "Churn", &fakeSender{})
		require.NoError(t, err)
		r.Leave(connID)
	}

	_, bobState, err := reg.Join("p1", "conn-bob", "bob", "Bob", &fakeSender{})
	require.NoError(t, err)
	assert.NotEqual(t, aliceState.Color, bobState.Color)
}

// A reconnecting user is a brand-new participant: prior color and identity
// are not preserved. The round-robin counter keeps advancing, so the fresh
// color usually differs from the old one.
func TestReconnectAssignsFreshParticipant(t *testing.T) {
	reg, _ := newTestRegistry()

	r, first, err := reg.Join("p1", "conn-1", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	_, _, err = reg.Join("p1", "conn-keep", "bob", "Bob", &fakeSender{})
	require.NoError(t, err)

	r.Leave("conn-1")
	_, second, err := reg.Join("p1", "conn-2", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)

	assert.Equal(t, presence.ColorAt(0), first.Color)
	assert.Equal(t, presence.ColorAt(2), second.Color)
	assert.NotEqual(t, first.Color, second.Color)
}

func TestRegistryReturnsSingleInstancePerID(t *testing.T) {
	reg, _ := newTestRegistry()

	const goroutines = 32
	rooms := make([]*Room, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.GetOrCreate("p1")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, rooms[0], rooms[i])
	}
	assert.Equal(t, 1, reg.Len())
}

func TestConcurrentJoinLeaveKeepsInvariant(t *testing.T) {
	reg, _ := newTestRegistry()

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := "conn-" + string(rune('a'+i))
			for j := 0; j < 50; j++ {
				r, _, err := reg.Join("p1", connID, "user", "User", &fakeSender{})
				if assert.NoError(t, err) {
					r.Leave(connID)
				}
			}
		}(i)
	}
	wg.Wait()

	// All participants have left; the registry must be empty.
	assert.Equal(t, 0, reg.Len())
}

func TestDrainedRoomIsRecreatedNotResurrected(t *testing.T) {
	reg, docs := newTestRegistry()

	r1, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	require.NoError(t, r1.ApplyUpdate("conn-a", []byte("d1")))
	r1.Leave("conn-a")
	require.Equal(t, 0, reg.Len())
	firstDoc := docs["p1"]

	r2, state, err := reg.Join("p1", "conn-b", "bob", "Bob", &fakeSender{})
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)
	// The new room starts from a fresh document.
	assert.NotSame(t, firstDoc, docs["p1"])
	assert.Empty(t, state.DocState)
}

func TestBroadcastSkipsFailingSender(t *testing.T) {
	reg, _ := newTestRegistry()

	r, _, err := reg.Join("p1", "conn-a", "alice", "Alice", &fakeSender{})
	require.NoError(t, err)
	_, _, err = reg.Join("p1", "conn-b", "bob", "Bob", failingSender{})
	require.NoError(t, err)
	carol := &fakeSender{}
	_, _, err = reg.Join("p1", "conn-c", "carol", "Carol", carol)
	require.NoError(t, err)

	require.NoError(t, r.ApplyUpdate("conn-a", []byte("d1")))

	// Bob's failure never surfaces to Carol.
	assert.Len(t, carol.received(EventDocUpdate), 1)
	assert.Equal(t, 3, r.ParticipantCount())
}

type failingSender struct{}

func (failingSender) Send(event string, payload interface{}) error {
	return errors.New("connection gone")
}
