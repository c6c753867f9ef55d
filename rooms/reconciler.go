// Package rooms owns the client side state of the walking rooms: the room collection and the ids of the joined
// rooms. All mutations go through the Reconciler, which keeps both collections free of duplicates, mirrors them
// into the local cache and re-renders the view after every change.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/persistence"
	"github.com/tcriess/walkingbuddy/types"
)

// Backend is the part of the backend API the reconciler drives.
type Backend interface {
	ListRooms(ctx context.Context) ([]types.Record, error)
	CreateRoom(ctx context.Context, payload types.Record) (types.Record, error)
	JoinRoom(ctx context.Context, roomId, userId string) (types.Record, error)
	LeaveRoom(ctx context.Context, roomId, userId string) (types.Record, error)
	DeleteRoom(ctx context.Context, roomId string) error
}

var errNoRoomId = errors.New("the server did not return the room")

type Options struct {
	// Self returns the local user, nil if unknown.
	Self func() *types.User
	// Names resolves missing creator names; without it rooms keep the placeholder.
	Names             *NameResolver
	JoinFailurePolicy Policy
	Normalizer        *normalize.Normalizer
	Logger            hclog.Logger
}

type Reconciler struct {
	backend    Backend
	cache      *persistence.LocalCache
	view       View
	normalizer *normalize.Normalizer
	names      *NameResolver
	self       func() *types.User
	joinPolicy Policy
	logger     hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// renderMu orders the renders the same way as the mutations, mu guards the state itself.
	renderMu     sync.Mutex
	mu           sync.Mutex
	rooms        []types.Room
	joined       []string
	fingerprints map[string]uint64
	resolving    map[string]struct{}
	// unnamed holds the ids of the rooms showing a placeholder creator name
	unnamed map[string]struct{}
}

func New(backend Backend, cache *persistence.LocalCache, view View, opts Options) *Reconciler {
	if view == nil {
		view = nopView{}
	}
	self := opts.Self
	if self == nil {
		self = func() *types.User { return nil }
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = normalize.New(self)
	}
	logger := opts.Logger
	if logger == nil {
		logger = globals.AppLogger.Named("rooms")
	}
	policy := opts.JoinFailurePolicy
	if policy == "" {
		policy = PolicyKeep
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		backend:      backend,
		cache:        cache,
		view:         view,
		normalizer:   normalizer,
		names:        opts.Names,
		self:         self,
		joinPolicy:   policy,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		rooms:        make([]types.Room, 0),
		joined:       make([]string, 0),
		fingerprints: make(map[string]uint64),
		resolving:    make(map[string]struct{}),
		unnamed:      make(map[string]struct{}),
	}
}

// State returns a copy of the current state. The raw payloads are shared and must not be modified.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// Wait blocks until all background name resolutions finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close abandons the background name resolutions and waits for them.
func (r *Reconciler) Close() {
	r.cancel()
	r.wg.Wait()
}

// LoadFromCache replaces the state with the cached one.
func (r *Reconciler) LoadFromCache() State {
	raws, joined := r.cache.Load()
	rooms := r.normalizer.Rooms(raws)
	var resolve []string
	st := r.mutate(func() bool {
		resolve = r.replaceLocked(rooms)
		r.joined = joined
		return false
	})
	r.resolve(r.ctx, resolve)
	return st
}

// FetchSnapshot replaces the room collection with the server's list. On failure the cached state is loaded
// instead and the error returned.
func (r *Reconciler) FetchSnapshot(ctx context.Context) error {
	raws, err := r.backend.ListRooms(ctx)
	if err != nil {
		r.logger.Info("could not fetch rooms, falling back to cache", "error", err)
		r.LoadFromCache()
		return fmt.Errorf("could not fetch rooms: %w", err)
	}
	rooms := r.normalizer.Rooms(raws)
	var resolve []string
	r.mutate(func() bool {
		resolve = r.replaceLocked(rooms)
		return true
	})
	r.resolve(r.ctx, resolve)
	return nil
}

// Upsert normalizes raw and inserts it, or replaces the room with the same id.
func (r *Reconciler) Upsert(raw types.Record) types.Room {
	var room types.Room
	var needsName bool
	r.mutate(func() bool {
		var changed bool
		room, changed, needsName = r.upsertLocked(raw)
		return changed
	})
	if needsName {
		r.resolve(r.ctx, []string{room.CreatorId})
	}
	return room
}

// Remove deletes the room from the collection and from the joined rooms.
func (r *Reconciler) Remove(id string) {
	r.mutate(func() bool {
		return r.removeLocked(id)
	})
}

func (r *Reconciler) MarkJoined(id string) {
	r.mutate(func() bool {
		return r.markLocked(id, true)
	})
}

func (r *Reconciler) MarkLeft(id string) {
	r.mutate(func() bool {
		return r.markLocked(id, false)
	})
}

// ResolveCreatorNames looks up the creator names missing in rooms in the background and re-renders when done.
// The returned channel is closed when the lookup finished.
func (r *Reconciler) ResolveCreatorNames(ctx context.Context, rooms []types.Room) <-chan struct{} {
	ids := make([]string, 0)
	r.mu.Lock()
	for _, room := range rooms {
		if room.CreatorId == "" {
			continue
		}
		if _, unnamed := r.unnamed[room.Id]; unnamed || room.CreatorName == "" {
			ids = append(ids, room.CreatorId)
		}
	}
	r.mu.Unlock()
	return r.resolve(ctx, ids)
}

// HandlePushEvent applies a push channel message.
func (r *Reconciler) HandlePushEvent(msg types.PushMessage) {
	switch msg.Type {
	case types.EventRoomCreated, types.EventRoomUpdated:
		if msg.Room == nil {
			r.logger.Debug("push event without room", "type", msg.Type, "room", msg.RoomId)
			return
		}
		r.Upsert(msg.Room)

	case types.EventRoomDeleted:
		id := msg.RoomId
		if id == "" {
			id = r.normalizer.RoomId(msg.Room)
		}
		r.Remove(id)

	case types.EventRoomJoined, types.EventRoomLeft:
		joined := msg.Type == types.EventRoomJoined
		self := msg.UserId == "" || r.self().IsSelf(msg.UserId)
		var room types.Room
		var needs bool
		r.mutate(func() bool {
			changed := false
			id := msg.RoomId
			if msg.Room != nil {
				room, changed, needs = r.upsertLocked(msg.Room)
				id = room.Id
			}
			if self && id != "" {
				changed = r.markLocked(id, joined) || changed
			}
			return changed
		})
		if needs {
			r.resolve(r.ctx, []string{room.CreatorId})
		}

	default:
		r.logger.Debug("ignoring push event", "type", msg.Type)
	}
}

// CreateRoomInput is what the user fills in to create a room. Name, start location and destination are required.
type CreateRoomInput struct {
	Name          string
	MeetTime      *time.Time
	StartLocation string
	Destination   string
	StartCoord    []float64
	DestCoord     []float64
	MaxMembers    int
}

func (in CreateRoomInput) Validate() error {
	missing := make([]string, 0)
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.StartLocation) == "" && len(in.StartCoord) == 0 {
		missing = append(missing, "start location")
	}
	if strings.TrimSpace(in.Destination) == "" && len(in.DestCoord) == 0 {
		missing = append(missing, "destination")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if (len(in.StartCoord) != 0 && len(in.StartCoord) != 2) || (len(in.DestCoord) != 0 && len(in.DestCoord) != 2) {
		return fmt.Errorf("coordinates must be [lat, lng]")
	}
	if in.MaxMembers < 0 {
		return fmt.Errorf("max members must not be negative")
	}
	return nil
}

// Payload builds the create request body.
func (in CreateRoomInput) Payload(userId string) types.Record {
	payload := types.Record{
		"name":           strings.TrimSpace(in.Name),
		"start_location": strings.TrimSpace(in.StartLocation),
		"destination":    strings.TrimSpace(in.Destination),
	}
	if userId != "" {
		payload["user_id"] = userId
	}
	if in.MeetTime != nil {
		payload["meet_time"] = in.MeetTime.UTC().Format(time.RFC3339)
	}
	if len(in.StartCoord) == 2 {
		payload["start_coord"] = in.StartCoord
	}
	if len(in.DestCoord) == 2 {
		payload["dest_coord"] = in.DestCoord
	}
	if in.MaxMembers > 0 {
		payload["max_members"] = in.MaxMembers
	}
	return payload
}

// CreateRoom creates the room on the server, adds it to the collection and joins it. Creation itself is not
// optimistic: nothing changes locally before the server assigned the id.
func (r *Reconciler) CreateRoom(ctx context.Context, in CreateRoomInput) (types.Room, error) {
	if err := in.Validate(); err != nil {
		adv := newAdvisory(OpCreate, "", err)
		r.view.Notify(*adv)
		return types.Room{}, adv
	}
	raw, err := r.backend.CreateRoom(ctx, in.Payload(r.selfId()))
	if err == nil && !normalize.HasId(raw) {
		err = errNoRoomId
	}
	if err != nil {
		adv := newAdvisory(OpCreate, "", err)
		r.logger.Warn("could not create room", "error", err)
		r.view.Notify(*adv)
		return types.Room{}, adv
	}
	room := r.Upsert(raw)
	if err := r.JoinRoom(ctx, room.Id); err != nil {
		return room, err
	}
	if joined, ok := r.State().Room(room.Id); ok {
		room = joined
	}
	return room, nil
}

// JoinRoom marks the room joined right away and makes it the current room, then asks the server. A rejection
// is handled by the join failure policy.
func (r *Reconciler) JoinRoom(ctx context.Context, id string) error {
	p := r.begin(OpJoin, id, r.joinPolicy, func() func() {
		was := containsId(r.joined, id)
		r.joined = append(r.joined, id)
		return func() {
			if !was {
				r.joined = removeId(r.joined, id)
			}
		}
	})
	r.cache.SetCurrentRoom(id)
	raw, err := r.backend.JoinRoom(ctx, id, r.selfId())
	if err != nil {
		return p.Fail(err)
	}
	p.Confirm(raw)
	return nil
}

// LeaveRoom marks the room left right away, then asks the server. A rejection keeps the room left.
func (r *Reconciler) LeaveRoom(ctx context.Context, id string) error {
	p := r.begin(OpLeave, id, PolicyKeep, func() func() {
		r.joined = removeId(r.joined, id)
		return nil
	})
	if r.cache.CurrentRoom() == id {
		r.cache.SetCurrentRoom("")
	}
	raw, err := r.backend.LeaveRoom(ctx, id, r.selfId())
	if err != nil {
		return p.Fail(err)
	}
	p.Confirm(raw)
	return nil
}

// DeleteRoom removes the room right away, then asks the server. A rejection keeps the room removed.
func (r *Reconciler) DeleteRoom(ctx context.Context, id string) error {
	p := r.begin(OpDelete, id, PolicyKeep, func() func() {
		r.removeLocked(id)
		return nil
	})
	if err := r.backend.DeleteRoom(ctx, id); err != nil {
		return p.Fail(err)
	}
	p.Confirm(nil)
	return nil
}

// mutate runs fn with the state locked, removes duplicates, saves the state if fn reports a change and renders.
func (r *Reconciler) mutate(fn func() (persist bool)) State {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	r.mu.Lock()
	persist := fn()
	r.rooms = dedupRooms(r.rooms)
	r.joined = dedupIds(r.joined)
	st := r.stateLocked()
	if persist {
		r.cache.Save(st.Rooms, st.Joined)
	}
	r.mu.Unlock()

	r.view.Render(st)
	return st
}

func (r *Reconciler) stateLocked() State {
	return State{
		Rooms:  append([]types.Room(nil), r.rooms...),
		Joined: append([]string(nil), r.joined...),
	}
}

// replaceLocked installs rooms as the new collection and returns the creator ids still needing a name.
func (r *Reconciler) replaceLocked(rooms []types.Room) []string {
	r.fingerprints = make(map[string]uint64, len(rooms))
	r.unnamed = make(map[string]struct{})
	resolve := make([]string, 0)
	for i := range rooms {
		if r.decorateLocked(&rooms[i]) {
			resolve = append(resolve, rooms[i].CreatorId)
		}
		if fp, err := fingerprint(rooms[i].Raw); err == nil {
			r.fingerprints[rooms[i].Id] = fp
		}
	}
	r.rooms = rooms
	return resolve
}

// upsertLocked reports whether the raw payload differs from the stored one and whether the creator name
// still has to be resolved.
func (r *Reconciler) upsertLocked(raw types.Record) (types.Room, bool, bool) {
	room := r.normalizer.Room(raw)
	_, prevUnnamed := r.unnamed[room.Id]
	needs := r.decorateLocked(&room)

	changed := true
	if fp, err := fingerprint(room.Raw); err == nil {
		if old, ok := r.fingerprints[room.Id]; ok && old == fp {
			changed = false
		}
		r.fingerprints[room.Id] = fp
	} else {
		r.logger.Debug("could not fingerprint room", "room", room.Id, "error", err)
		delete(r.fingerprints, room.Id)
	}

	for i := range r.rooms {
		if r.rooms[i].Id != room.Id {
			continue
		}
		prev := r.rooms[i]
		if needs && prev.CreatorId == room.CreatorId && !prevUnnamed && prev.CreatorName != "" {
			room.CreatorName = prev.CreatorName
			delete(r.unnamed, room.Id)
			needs = false
		}
		r.rooms[i] = room
		return room, changed, needs
	}
	r.rooms = append(r.rooms, room)
	return room, true, needs
}

func (r *Reconciler) removeLocked(id string) bool {
	found := false
	kept := r.rooms[:0]
	for _, room := range r.rooms {
		if room.Id == id {
			found = true
			continue
		}
		kept = append(kept, room)
	}
	r.rooms = kept
	delete(r.fingerprints, id)
	delete(r.unnamed, id)
	if containsId(r.joined, id) {
		r.joined = removeId(r.joined, id)
		found = true
	}
	return found
}

func (r *Reconciler) markLocked(id string, joined bool) bool {
	if id == "" || containsId(r.joined, id) == joined {
		return false
	}
	if joined {
		r.joined = append(r.joined, id)
	} else {
		r.joined = removeId(r.joined, id)
	}
	return true
}

// decorateLocked fills in a missing creator name from the name cache, or the placeholder. It reports whether
// the name still has to be resolved. A name carried by the payload is never replaced.
func (r *Reconciler) decorateLocked(room *types.Room) bool {
	delete(r.unnamed, room.Id)
	if room.CreatorId == "" || room.CreatorName != "" {
		return false
	}
	if r.names != nil {
		if name, ok := r.names.Cached(room.CreatorId); ok {
			room.CreatorName = name
			return false
		}
	}
	room.CreatorName = Placeholder(room.CreatorId)
	r.unnamed[room.Id] = struct{}{}
	return true
}

// resolve starts a background lookup for the ids not already being looked up.
func (r *Reconciler) resolve(ctx context.Context, ids []string) <-chan struct{} {
	done := make(chan struct{})
	if r.names == nil || len(ids) == 0 {
		close(done)
		return done
	}
	r.mu.Lock()
	pending := make([]string, 0, len(ids))
	for _, id := range dedupIds(ids) {
		if _, busy := r.resolving[id]; busy {
			continue
		}
		r.resolving[id] = struct{}{}
		pending = append(pending, id)
	}
	r.mu.Unlock()
	if len(pending) == 0 {
		close(done)
		return done
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		names := r.names.Resolve(ctx, pending)
		r.mutate(func() bool {
			for _, id := range pending {
				delete(r.resolving, id)
			}
			for i := range r.rooms {
				if _, unnamed := r.unnamed[r.rooms[i].Id]; !unnamed {
					continue
				}
				if name, ok := names[r.rooms[i].CreatorId]; ok {
					r.rooms[i].CreatorName = name
					delete(r.unnamed, r.rooms[i].Id)
				}
			}
			return false
		})
	}()
	return done
}

func (r *Reconciler) selfId() string {
	if self := r.self(); self != nil {
		return self.Id
	}
	return ""
}

func fingerprint(raw types.Record) (uint64, error) {
	return hashstructure.Hash(map[string]interface{}(raw), hashstructure.FormatV2, nil)
}
