package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/tcriess/walkingbuddy/avatar"
	"github.com/tcriess/walkingbuddy/filter"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/rooms"
	"github.com/tcriess/walkingbuddy/types"
	"github.com/tcriess/walkingbuddy/ws"
)

const meetTimeLayout = "Mon 02 Jan 15:04"

// terminalView prints the room list. One-shot commands print the final state once, watch prints every render.
type terminalView struct {
	out    io.Writer
	filter *filter.Filter
	self   func() *types.User
	now    func() time.Time

	mu   sync.Mutex
	live bool
}

func newTerminalView(out io.Writer, f *filter.Filter, self func() *types.User) *terminalView {
	return &terminalView{out: out, filter: f, self: self, now: time.Now}
}

// SetLive switches between printing every render and printing on demand.
func (v *terminalView) SetLive(live bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.live = live
}

func (v *terminalView) Render(st rooms.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.live {
		v.print(st)
	}
}

func (v *terminalView) Notify(a rooms.Advisory) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "! %s\n", a.Message)
}

// PushState reports push channel state changes while watching.
func (v *terminalView) PushState(s ws.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.live {
		fmt.Fprintf(v.out, "~ live updates %s\n", s)
	}
}

// Print prints st regardless of the live mode.
func (v *terminalView) Print(st rooms.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.print(st)
}

func (v *terminalView) print(st rooms.State) {
	matched := v.filter.Rooms(st, v.self(), v.now())
	if len(matched) == 0 {
		fmt.Fprintln(v.out, "No rooms yet.")
		return
	}
	tw := tabwriter.NewWriter(v.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tMEMBERS\tMEET\tROUTE\tCREATOR")
	for _, room := range matched {
		marker := ""
		if st.IsJoined(room.Id) {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s → %s\t%s\n",
			marker, room.Id, room.Name, members(room), room.MeetTimeLabel(meetTimeLayout),
			room.StartLocation, room.Destination, creator(room))
	}
	tw.Flush()
}

func members(room types.Room) string {
	if room.MaxMembers > 0 {
		return fmt.Sprintf("%d/%d", room.MemberCount, room.MaxMembers)
	}
	return strconv.Itoa(room.MemberCount)
}

func creator(room types.Room) string {
	if room.CreatorName == "" {
		return "-"
	}
	return fmt.Sprintf("[%s] %s", avatar.Initials(room.CreatorName, ""), room.CreatorName)
}

// printMessages prints chat messages, own ones marked with ">".
func printMessages(out io.Writer, msgs []types.ChatMessage) {
	for _, m := range msgs {
		marker := " "
		if m.Self {
			marker = ">"
		}
		ts := ""
		if m.Timestamp != nil {
			ts = m.Timestamp.Local().Format("15:04:05") + " "
		}
		fmt.Fprintf(out, "%s %s[%s] %s: %s\n", marker, ts, avatar.Initials(m.AuthorName, m.AuthorEmail), m.AuthorName, m.Content)
	}
}

// chatPrinter prints a polled history incrementally. The history is capped, so once it is full every poll
// returns the same number of messages shifted by the new ones; the printer continues after the last message
// it printed and prints the whole list if that message dropped out.
type chatPrinter struct {
	out  io.Writer
	last string
}

func (p *chatPrinter) Show(msgs []types.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	start := 0
	if p.last != "" {
		for i := len(msgs) - 1; i >= 0; i-- {
			if messageKey(msgs[i]) == p.last {
				start = i + 1
				break
			}
		}
	}
	printMessages(p.out, msgs[start:])
	p.last = messageKey(msgs[len(msgs)-1])
}

// messageKey identifies a message by its backend id, or by author, time and content.
func messageKey(m types.ChatMessage) string {
	for _, key := range []string{"id", "message_id", "_id"} {
		if id, ok := normalize.AsString(m.Raw[key]); ok {
			return "id:" + id
		}
	}
	ts := ""
	if m.Timestamp != nil {
		ts = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%s", m.UserId, ts, m.Content)
}

// reportError prints a command error. Advisories have been shown by the view already.
func reportError(out io.Writer, err error) {
	var adv *rooms.Advisory
	if errors.As(err, &adv) {
		return
	}
	fmt.Fprintf(out, "Error: %s\n", err)
}
