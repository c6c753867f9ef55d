// Package chat is the view model of a room's chat: it polls the message history and sends messages, joining the
// room on the fly when the backend refuses a message from a non-member.
package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/walkingbuddy/api"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/types"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultHistoryLimit = 200
)

var (
	ErrNoRoom       = errors.New("no room selected")
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrAnonymous    = errors.New("you must be logged in to send messages")
)

type Backend interface {
	ListMessages(ctx context.Context, roomId string, limit int) ([]types.Record, error)
	SendMessage(ctx context.Context, roomId, userId, content string) (types.Record, error)
	JoinRoom(ctx context.Context, roomId, userId string) (types.Record, error)
}

type Options struct {
	PollInterval time.Duration
	HistoryLimit int
	// OnAutoJoin is called with the updated room after the session joined the room to deliver a message.
	OnAutoJoin func(roomId string, room types.Record)
	Logger     hclog.Logger
}

type Session struct {
	backend      Backend
	roomId       string
	self         *types.User
	normalizer   *normalize.Normalizer
	pollInterval time.Duration
	historyLimit int
	onAutoJoin   func(string, types.Record)
	logger       hclog.Logger

	sending int32
}

// NewSession binds a chat session to roomId. self may be nil (read-only session).
func NewSession(backend Backend, roomId string, self *types.User, opts Options) (*Session, error) {
	if strings.TrimSpace(roomId) == "" {
		return nil, ErrNoRoom
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = globals.AppLogger.Named("chat")
	}
	return &Session{
		backend:      backend,
		roomId:       roomId,
		self:         self,
		normalizer:   normalize.New(func() *types.User { return self }),
		pollInterval: opts.PollInterval,
		historyLimit: opts.HistoryLimit,
		onAutoJoin:   opts.OnAutoJoin,
		logger:       opts.Logger.With("room", roomId),
	}, nil
}

func (s *Session) RoomId() string {
	return s.roomId
}

// Load returns the latest messages, oldest first.
func (s *Session) Load(ctx context.Context) ([]types.ChatMessage, error) {
	raws, err := s.backend.ListMessages(ctx, s.roomId, s.historyLimit)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		msgs = append(msgs, s.normalizer.Message(raw))
	}
	return msgs, nil
}

// Poll loads the messages right away and then on every tick until ctx is cancelled. Failed loads are logged and
// skipped, fn only sees successful ones.
func (s *Session) Poll(ctx context.Context, fn func([]types.ChatMessage)) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if msgs, err := s.Load(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("could not load messages", "error", err)
		} else {
			fn(msgs)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Send posts text and returns the reloaded history. A 403 is answered by joining the room and sending once more.
// Only one message can be in flight at a time.
func (s *Session) Send(ctx context.Context, text string) ([]types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.self == nil || s.self.Id == "" {
		return nil, ErrAnonymous
	}
	if !atomic.CompareAndSwapInt32(&s.sending, 0, 1) {
		return nil, ErrSendInFlight
	}
	defer atomic.StoreInt32(&s.sending, 0)

	_, err := s.backend.SendMessage(ctx, s.roomId, s.self.Id, text)
	if api.IsStatus(err, http.StatusForbidden) {
		s.logger.Info("not a member, joining room before sending again")
		room, joinErr := s.backend.JoinRoom(ctx, s.roomId, s.self.Id)
		if joinErr != nil {
			s.logger.Warn("auto-join failed", "error", joinErr)
			return nil, err
		}
		if s.onAutoJoin != nil {
			s.onAutoJoin(s.roomId, room)
		}
		_, err = s.backend.SendMessage(ctx, s.roomId, s.self.Id, text)
	}
	if err != nil {
		return nil, err
	}
	return s.Load(ctx)
}
