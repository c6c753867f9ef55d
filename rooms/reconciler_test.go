package rooms

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/walkingbuddy/api"
	"github.com/tcriess/walkingbuddy/backendtest"
	"github.com/tcriess/walkingbuddy/persistence"
	"github.com/tcriess/walkingbuddy/types"
)

type recordingView struct {
	mu         sync.Mutex
	renders    []State
	advisories []Advisory
}

func (v *recordingView) Render(st State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, st)
}

func (v *recordingView) Notify(a Advisory) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advisories = append(v.advisories, a)
}

func (v *recordingView) renderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.renders)
}

func (v *recordingView) notified() []Advisory {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Advisory(nil), v.advisories...)
}

// countingStore counts the writes reaching the store.
type countingStore struct {
	*persistence.MemoryStore
	mu   sync.Mutex
	sets int
}

func (s *countingStore) Set(slot, value string) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.MemoryStore.Set(slot, value)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

type fixture struct {
	srv    *backendtest.Server
	client *api.Client
	store  *countingStore
	cache  *persistence.LocalCache
	view   *recordingView
	self   *types.User
}

func newFixture(t *testing.T) *fixture {
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	client, err := api.NewClient(srv.URL, "walkingbuddy-test")
	require.NoError(t, err)
	store := &countingStore{MemoryStore: persistence.NewMemoryStore()}
	return &fixture{
		srv:    srv,
		client: client,
		store:  store,
		cache:  persistence.NewLocalCache(store, nil),
		view:   &recordingView{},
		self:   &types.User{Id: "u1", Name: "Ada"},
	}
}

func (f *fixture) reconciler(t *testing.T, backend Backend, opts Options) *Reconciler {
	if backend == nil {
		backend = f.client
	}
	if opts.Self == nil {
		opts.Self = func() *types.User { return f.self }
	}
	r := New(backend, f.cache, f.view, opts)
	t.Cleanup(r.Close)
	return r
}

func (f *fixture) withNames(t *testing.T) Options {
	names, err := NewNameResolver(f.client, 16)
	require.NoError(t, err)
	return Options{Names: names}
}

func ids(rooms []types.Room) []string {
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Id)
	}
	return out
}

func assertUnique(t *testing.T, st State) {
	t.Helper()
	seen := make(map[string]bool)
	for _, id := range ids(st.Rooms) {
		assert.False(t, seen[id], "duplicate room %s", id)
		seen[id] = true
	}
	seen = make(map[string]bool)
	for _, id := range st.Joined {
		assert.False(t, seen[id], "duplicate joined id %s", id)
		seen[id] = true
	}
}

func TestUpsertKeepsOneRoomPerId(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})

	records := []types.Record{
		{"room_id": 1, "name": "first"},
		{"id": "1", "name": "second"},
		{"roomId": "2", "name": "other"},
		{"_id": 1.0, "name": "third"},
		{"uuid": "2", "name": "other again"},
	}
	for _, raw := range records {
		r.Upsert(raw)
		assertUnique(t, r.State())
	}
	st := r.State()
	assert.Equal(t, []string{"1", "2"}, ids(st.Rooms))
	assert.Equal(t, "third", st.Rooms[0].Name)
	assert.Equal(t, "other again", st.Rooms[1].Name)
	assert.Equal(t, len(records), f.view.renderCount())
}

func TestUpsertWithoutIdIsStable(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	raw := types.Record{"name": "no id"}
	first := r.Upsert(raw)
	second := r.Upsert(raw)
	assert.NotEmpty(t, first.Id)
	assert.Equal(t, first.Id, second.Id)
	assert.Len(t, r.State().Rooms, 1)

	a := r.Upsert(types.Record{"name": "a"})
	b := r.Upsert(types.Record{"name": "b"})
	assert.NotEqual(t, a.Id, b.Id)
	assert.Len(t, r.State().Rooms, 3)
}

func TestRepeatedUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	msg := types.PushMessage{
		Type: types.EventRoomUpdated,
		Room: types.Record{"room_id": "5", "name": "Walk", "members": []interface{}{"a", "b"}},
	}
	r.HandlePushEvent(msg)
	once := r.State()
	writes := f.store.count()

	r.HandlePushEvent(types.PushMessage{Type: msg.Type, Room: msg.Room.Clone()})
	assert.Equal(t, once, r.State())
	assert.Equal(t, writes, f.store.count(), "unchanged room must not be written again")
	assert.Equal(t, 2, r.State().Rooms[0].MemberCount)
}

func TestMarkJoinedAndLeftAreIdempotent(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	r.MarkJoined("3")
	r.MarkJoined("3")
	r.MarkJoined("4")
	assert.Equal(t, []string{"3", "4"}, r.State().Joined)
	r.MarkLeft("3")
	r.MarkLeft("3")
	assert.Equal(t, []string{"4"}, r.State().Joined)
	assert.True(t, r.State().IsJoined("4"))
}

func TestRemoveDropsRoomAndMembership(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	r.Upsert(types.Record{"id": "1"})
	r.Upsert(types.Record{"id": "2"})
	r.MarkJoined("2")
	r.Remove("2")
	st := r.State()
	assert.Equal(t, []string{"1"}, ids(st.Rooms))
	assert.Empty(t, st.Joined)
	_, ok := st.Room("2")
	assert.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	r.Upsert(types.Record{"room_id": "1", "name": "A", "meet_time": "2024-05-01T10:00:00Z", "start_location": "X"})
	r.Upsert(types.Record{"name": "placeholder id"})
	r.MarkJoined("1")
	r.MarkJoined("ghost")
	want := r.State()

	other := New(f.client, persistence.NewLocalCache(f.store, nil), nil, Options{Self: func() *types.User { return f.self }})
	defer other.Close()
	got := other.LoadFromCache()
	assert.Equal(t, ids(want.Rooms), ids(got.Rooms))
	assert.Equal(t, want.Joined, got.Joined)
	for i := range want.Rooms {
		assert.Equal(t, want.Rooms[i].Raw, got.Rooms[i].Raw)
		assert.Equal(t, want.Rooms[i].Name, got.Rooms[i].Name)
		assert.Equal(t, want.Rooms[i].MeetTime, got.Rooms[i].MeetTime)
	}
}

func TestFetchSnapshotReplacesCollection(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "10", "name": "Server A"})
	f.srv.AddRoom(types.Record{"room_id": "11", "name": "Server B"})
	f.srv.AddRoom(types.Record{"room_id": "10", "name": "Server A dup"})
	r := f.reconciler(t, nil, Options{})
	r.Upsert(types.Record{"room_id": "local"})
	r.MarkJoined("10")

	require.NoError(t, r.FetchSnapshot(context.Background()))
	st := r.State()
	assert.Equal(t, []string{"10", "11"}, ids(st.Rooms))
	assert.Equal(t, "Server A dup", st.Rooms[0].Name)
	assert.Equal(t, []string{"10"}, st.Joined)

	raws, joined := f.cache.Load()
	assert.Len(t, raws, 2)
	assert.Equal(t, []string{"10"}, joined)
}

func TestFetchSnapshotFailureFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	r.Upsert(types.Record{"room_id": "1", "name": "cached"})
	r.MarkJoined("1")

	// a write the cache never saw
	r.mutate(func() bool {
		r.rooms = append(r.rooms, types.Room{Id: "memory-only"})
		return false
	})

	f.srv.Fail(backendtest.RouteList, http.StatusBadGateway, "upstream down")
	err := r.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusBadGateway))

	fresh := New(f.client, f.cache, nil, Options{Self: func() *types.User { return f.self }})
	defer fresh.Close()
	assert.Equal(t, fresh.LoadFromCache(), r.State())
	assert.Empty(t, f.view.notified(), "background refresh failures are silent")
}

func TestCreateThenJoin(t *testing.T) {
	f := newFixture(t)
	f.srv.SetNextId(42)
	r := f.reconciler(t, nil, Options{})

	room, err := r.CreateRoom(context.Background(), CreateRoomInput{Name: "Trip", StartLocation: "A", Destination: "B"})
	require.NoError(t, err)
	assert.Equal(t, "42", room.Id)
	assert.Equal(t, 1, room.MemberCount)
	assert.Equal(t, "Ada", room.CreatorName)

	st := r.State()
	assert.True(t, st.IsJoined("42"))
	stored, ok := st.Room("42")
	require.True(t, ok)
	assert.Equal(t, 1, stored.MemberCount)
	assert.Equal(t, "42", f.cache.CurrentRoom())
	assert.Equal(t, 1, f.srv.Hits(backendtest.RouteJoin))

	server := f.srv.Rooms()
	require.Len(t, server, 1)
	assert.Equal(t, "u1", server[0]["creator_id"])
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})
	_, err := r.CreateRoom(context.Background(), CreateRoomInput{StartLocation: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "destination")
	assert.Equal(t, 0, f.srv.Hits(backendtest.RouteCreate))
	require.Len(t, f.view.notified(), 1)
	assert.Equal(t, OpCreate, f.view.notified()[0].Op)

	_, err = r.CreateRoom(context.Background(), CreateRoomInput{Name: "x", Destination: "y", StartCoord: []float64{1}})
	assert.Error(t, err)
}

func TestCreateRoomPayload(t *testing.T) {
	meet := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	in := CreateRoomInput{
		Name:          " Trip ",
		MeetTime:      &meet,
		StartLocation: "A",
		Destination:   "B",
		DestCoord:     []float64{52.5, 13.4},
		MaxMembers:    4,
	}
	p := in.Payload("u1")
	assert.Equal(t, "Trip", p["name"])
	assert.Equal(t, "2024-06-01T08:30:00Z", p["meet_time"])
	assert.Equal(t, "u1", p["user_id"])
	assert.Equal(t, []float64{52.5, 13.4}, p["dest_coord"])
	assert.Equal(t, 4, p["max_members"])
	assert.NotContains(t, p, "start_coord")
	assert.NotContains(t, in.Payload(""), "user_id")
}

func TestCreateRoomServerFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(backendtest.RouteCreate, http.StatusInternalServerError, "db down")
	r := f.reconciler(t, nil, Options{})
	_, err := r.CreateRoom(context.Background(), CreateRoomInput{Name: "Trip", StartLocation: "A", Destination: "B"})
	require.Error(t, err)
	var adv *Advisory
	require.True(t, errors.As(err, &adv))
	assert.Contains(t, adv.Message, "db down")
	assert.Empty(t, r.State().Rooms)
}

type hookBackend struct {
	Backend
	beforeDelete func(id string)
	beforeJoin   func(id string)
}

func (b hookBackend) DeleteRoom(ctx context.Context, id string) error {
	if b.beforeDelete != nil {
		b.beforeDelete(id)
	}
	return b.Backend.DeleteRoom(ctx, id)
}

func (b hookBackend) JoinRoom(ctx context.Context, id, userId string) (types.Record, error) {
	if b.beforeJoin != nil {
		b.beforeJoin(id)
	}
	return b.Backend.JoinRoom(ctx, id, userId)
}

// envelopeBackend answers create, join and leave with a bare status envelope without the room.
type envelopeBackend struct {
	Backend
}

func (envelopeBackend) CreateRoom(ctx context.Context, payload types.Record) (types.Record, error) {
	return types.Record{"success": true, "message": "created"}, nil
}

func (envelopeBackend) JoinRoom(ctx context.Context, id, userId string) (types.Record, error) {
	return types.Record{"success": true, "message": "joined"}, nil
}

func (envelopeBackend) LeaveRoom(ctx context.Context, id, userId string) (types.Record, error) {
	return types.Record{"success": true, "message": "left"}, nil
}

func TestStatusEnvelopesAddNoRooms(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, envelopeBackend{Backend: f.client}, Options{})
	r.Upsert(types.Record{"room_id": 42, "name": "Lake"})

	require.NoError(t, r.JoinRoom(context.Background(), "42"))
	st := r.State()
	assert.Equal(t, []string{"42"}, ids(st.Rooms))
	assert.True(t, st.IsJoined("42"))

	require.NoError(t, r.LeaveRoom(context.Background(), "42"))
	st = r.State()
	assert.Equal(t, []string{"42"}, ids(st.Rooms))
	assert.Equal(t, "Lake", st.Rooms[0].Name)
	assert.Empty(t, st.Joined)

	raws, _ := f.cache.Load()
	assert.Len(t, raws, 1)
	assert.Empty(t, f.view.notified())
}

func TestCreateRoomReplyWithoutRoom(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, envelopeBackend{Backend: f.client}, Options{})

	_, err := r.CreateRoom(context.Background(), CreateRoomInput{Name: "Trip", StartLocation: "A", Destination: "B"})
	require.Error(t, err)
	var adv *Advisory
	require.True(t, errors.As(err, &adv))
	assert.Equal(t, OpCreate, adv.Op)
	assert.Empty(t, r.State().Rooms)
	assert.Empty(t, r.State().Joined)
	assert.Equal(t, "", f.cache.CurrentRoom())
	require.Len(t, f.view.notified(), 1)
}

func TestDeleteIsOptimisticAndKeptOnFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "7", "name": "doomed"})
	f.srv.AddRoom(types.Record{"room_id": "8", "name": "stays"})
	var r *Reconciler
	var seenBeforeServer State
	backend := hookBackend{Backend: f.client, beforeDelete: func(string) { seenBeforeServer = r.State() }}
	r = f.reconciler(t, backend, Options{})
	require.NoError(t, r.FetchSnapshot(context.Background()))
	r.MarkJoined("7")

	f.srv.Fail(backendtest.RouteDelete, http.StatusInternalServerError, "boom")
	err := r.DeleteRoom(context.Background(), "7")
	require.Error(t, err)

	assert.Equal(t, []string{"8"}, ids(seenBeforeServer.Rooms))
	assert.Empty(t, seenBeforeServer.Joined)
	st := r.State()
	assert.Equal(t, []string{"8"}, ids(st.Rooms))
	assert.Empty(t, st.Joined)

	advisories := f.view.notified()
	require.Len(t, advisories, 1)
	assert.Equal(t, OpDelete, advisories[0].Op)
	assert.Equal(t, "7", advisories[0].RoomId)
	assert.False(t, advisories[0].RolledBack)
	assert.Contains(t, advisories[0].Message, "boom")

	raws, _ := f.cache.Load()
	assert.Len(t, raws, 1)
}

func TestDeleteConfirmed(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "7"})
	r := f.reconciler(t, nil, Options{})
	require.NoError(t, r.FetchSnapshot(context.Background()))
	require.NoError(t, r.DeleteRoom(context.Background(), "7"))
	assert.Empty(t, r.State().Rooms)
	assert.Empty(t, f.srv.Rooms())
	assert.Empty(t, f.view.notified())
}

func TestJoinFailureKeepsMembership(t *testing.T) {
	f := newFixture(t)
	var r *Reconciler
	var joinedBeforeServer bool
	backend := hookBackend{Backend: f.client, beforeJoin: func(id string) { joinedBeforeServer = r.State().IsJoined(id) }}
	r = f.reconciler(t, backend, Options{})

	err := r.JoinRoom(context.Background(), "9")
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
	assert.True(t, joinedBeforeServer)
	assert.True(t, r.State().IsJoined("9"))
	require.Len(t, f.view.notified(), 1)
	assert.Equal(t, OpJoin, f.view.notified()[0].Op)
}

func TestJoinFailureRollback(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{JoinFailurePolicy: PolicyRollback})
	r.MarkJoined("1")

	require.Error(t, r.JoinRoom(context.Background(), "9"))
	assert.Equal(t, []string{"1"}, r.State().Joined)
	assert.True(t, f.view.notified()[0].RolledBack)
	_, joined := f.cache.Load()
	assert.Equal(t, []string{"1"}, joined)

	// a room joined before the failed attempt stays joined
	require.Error(t, r.JoinRoom(context.Background(), "1"))
	assert.Equal(t, []string{"1"}, r.State().Joined)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "3", "members": []interface{}{}})
	r := f.reconciler(t, nil, Options{})
	require.NoError(t, r.JoinRoom(context.Background(), "3"))
	assert.Equal(t, 1, mustRoom(t, r, "3").MemberCount)
	assert.Equal(t, "3", f.cache.CurrentRoom())

	require.NoError(t, r.LeaveRoom(context.Background(), "3"))
	assert.False(t, r.State().IsJoined("3"))
	room := mustRoom(t, r, "3")
	assert.Equal(t, 0, room.MemberCount)
	assert.Equal(t, "complete", room.Status)
	assert.Equal(t, "", f.cache.CurrentRoom())

	r.MarkJoined("3")
	f.srv.Fail(backendtest.RouteLeave, http.StatusInternalServerError, "nope")
	require.Error(t, r.LeaveRoom(context.Background(), "3"))
	assert.False(t, r.State().IsJoined("3"))
}

func mustRoom(t *testing.T, r *Reconciler, id string) types.Room {
	t.Helper()
	room, ok := r.State().Room(id)
	require.True(t, ok, "room %s missing", id)
	return room
}

func TestPushEvents(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, Options{})

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomCreated, Room: types.Record{"room_id": "1", "name": "new"}})
	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomCreated, RoomId: "ignored"})
	assert.Equal(t, []string{"1"}, ids(r.State().Rooms))

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomUpdated, Room: types.Record{"id": "1", "name": "renamed"}})
	assert.Equal(t, "renamed", mustRoom(t, r, "1").Name)

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomJoined, RoomId: "1", UserId: "u2"})
	assert.False(t, r.State().IsJoined("1"))
	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomJoined, Room: types.Record{"id": "1", "member_count": 2}, UserId: "u1"})
	assert.True(t, r.State().IsJoined("1"))
	assert.Equal(t, 2, mustRoom(t, r, "1").MemberCount)

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomLeft, RoomId: "1"})
	assert.False(t, r.State().IsJoined("1"))

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomJoined, RoomId: "2"})
	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomDeleted, RoomId: "2"})
	assert.Empty(t, r.State().Joined)

	r.HandlePushEvent(types.PushMessage{Type: types.EventRoomDeleted, Room: types.Record{"room_id": "1"}})
	assert.Empty(t, r.State().Rooms)

	r.HandlePushEvent(types.PushMessage{Type: "room_exploded", RoomId: "1"})
	assertUnique(t, r.State())
}

func TestPushEventRacingOptimisticDelete(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "7"})
	var r *Reconciler
	backend := hookBackend{Backend: f.client, beforeDelete: func(string) {
		// the update arrives after the local delete was applied, so it wins
		r.HandlePushEvent(types.PushMessage{Type: types.EventRoomUpdated, Room: types.Record{"room_id": "7", "name": "back"}})
	}}
	r = f.reconciler(t, backend, Options{})
	require.NoError(t, r.FetchSnapshot(context.Background()))
	require.NoError(t, r.DeleteRoom(context.Background(), "7"))
	assert.Equal(t, "back", mustRoom(t, r, "7").Name)
}

func TestCreatorNamePlaceholder(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(backendtest.RouteUsers, http.StatusInternalServerError, "down")
	f.srv.Fail(backendtest.RouteUser, http.StatusInternalServerError, "down")
	r := f.reconciler(t, nil, f.withNames(t))

	r.Upsert(types.Record{"room_id": "1", "creator_id": "u9"})
	r.Wait()
	first := mustRoom(t, r, "1").CreatorName
	assert.Equal(t, "U9", first)
	assert.Equal(t, 1, f.srv.Hits(backendtest.RouteUsers))
	assert.Equal(t, 1, f.srv.Hits(backendtest.RouteUser))

	other := newFixture(t)
	o := other.reconciler(t, nil, Options{})
	o.Upsert(types.Record{"room_id": "x", "creator_id": "u9"})
	assert.Equal(t, first, mustRoom(t, o, "x").CreatorName)

	// failures are not remembered, the next cycle asks again
	f.srv.Recover(backendtest.RouteUser)
	f.srv.AddUser(types.Record{"id": "u9", "name": "Nine"})
	<-r.ResolveCreatorNames(context.Background(), r.State().Rooms)
	assert.Equal(t, "Nine", mustRoom(t, r, "1").CreatorName)
}

func TestCreatorNameResolution(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser(types.Record{"id": "u7", "name": "Grace"})
	f.srv.AddRoom(types.Record{"room_id": "1", "creator_id": "u7"})
	f.srv.AddRoom(types.Record{"room_id": "2", "creator_id": "u7"})
	f.srv.AddRoom(types.Record{"room_id": "3", "creator_id": "u1"})
	f.srv.AddRoom(types.Record{"room_id": "4", "creator_id": "u8", "creator_name": "Known"})
	r := f.reconciler(t, nil, f.withNames(t))

	rendersBefore := f.view.renderCount()
	require.NoError(t, r.FetchSnapshot(context.Background()))
	r.Wait()
	st := r.State()
	assert.Equal(t, "Grace", st.Rooms[0].CreatorName)
	assert.Equal(t, "Grace", st.Rooms[1].CreatorName)
	assert.Equal(t, "Ada", st.Rooms[2].CreatorName)
	assert.Equal(t, "Known", st.Rooms[3].CreatorName)
	assert.Equal(t, 1, f.srv.Hits(backendtest.RouteUsers))
	assert.Equal(t, 0, f.srv.Hits(backendtest.RouteUser))
	assert.Equal(t, rendersBefore+2, f.view.renderCount(), "snapshot render plus re-render after resolution")

	require.NoError(t, r.FetchSnapshot(context.Background()))
	r.Wait()
	assert.Equal(t, "Grace", mustRoom(t, r, "1").CreatorName)
	assert.Equal(t, 1, f.srv.Hits(backendtest.RouteUsers), "resolved names are cached")

	// an update without the name keeps the resolved one
	r.Upsert(types.Record{"room_id": "1", "creator_id": "u7", "name": "renamed"})
	assert.Equal(t, "Grace", mustRoom(t, r, "1").CreatorName)
}

func TestPayloadCreatorNameIsNeverLookedUp(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, nil, f.withNames(t))

	// the real name happens to look like the placeholder of the id
	r.Upsert(types.Record{"room_id": "1", "creator_id": "u9", "creator_name": "U9"})
	r.Wait()
	r.Upsert(types.Record{"room_id": "1", "creator_id": "u9", "creator_name": "U9", "name": "renamed"})
	<-r.ResolveCreatorNames(context.Background(), r.State().Rooms)
	r.Wait()

	assert.Equal(t, "U9", mustRoom(t, r, "1").CreatorName)
	assert.Equal(t, 0, f.srv.Hits(backendtest.RouteUsers))
	assert.Equal(t, 0, f.srv.Hits(backendtest.RouteUser))
}

func TestNameResolverFallsBackToSingleLookups(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(backendtest.RouteUsers, http.StatusNotFound, "no batch endpoint")
	f.srv.AddUser(types.Record{"id": "a", "full_name": "Alice A"})
	f.srv.AddUser(types.Record{"id": "b"})
	names, err := NewNameResolver(f.client, 0)
	require.NoError(t, err)

	got := names.Resolve(context.Background(), []string{"a", "b", "a", "missing"})
	assert.Equal(t, map[string]string{"a": "Alice A"}, got)
	assert.Equal(t, 3, f.srv.Hits(backendtest.RouteUser))

	got = names.Resolve(context.Background(), []string{"a"})
	assert.Equal(t, "Alice A", got["a"])
	assert.Equal(t, 3, f.srv.Hits(backendtest.RouteUser))
	name, ok := names.Cached("a")
	assert.True(t, ok)
	assert.Equal(t, "Alice A", name)
	_, ok = names.Cached("missing")
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyKeep, p)
	p, err = ParsePolicy(" Rollback ")
	require.NoError(t, err)
	assert.Equal(t, PolicyRollback, p)
	_, err = ParsePolicy("maybe")
	assert.Error(t, err)
}

func TestRefresher(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRoom(types.Record{"room_id": "1"})
	r := f.reconciler(t, nil, Options{})

	_, err := NewRefresher(r, "every now and then")
	assert.Error(t, err)

	refresher, err := NewRefresher(r, "@every 1s")
	require.NoError(t, err)
	refresher.Start()
	defer refresher.Stop()
	assert.Eventually(t, func() bool { return len(r.State().Rooms) == 1 }, 3*time.Second, 50*time.Millisecond)
}
