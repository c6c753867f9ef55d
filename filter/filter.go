// Package filter selects rooms with user supplied expressions such as
//
//	!Full && Contains(Destination, "park") && MeetTime < Now + Hours(2)
//
// evaluated with github.com/antonmedv/expr against Env.
package filter

import (
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/rooms"
	"github.com/tcriess/walkingbuddy/types"
)

type Filter struct {
	source  string
	program *vm.Program
}

// Compile type-checks source against Env. An empty source yields a nil filter, which matches every room.
func Compile(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	return &Filter{source: source, program: program}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter. Evaluation errors (f.e. a division by zero) count as no match.
func (f *Filter) Match(env Env) bool {
	if f == nil {
		return true
	}
	res, err := expr.Run(f.program, env)
	if err != nil {
		globals.AppLogger.Debug("could not evaluate filter", "filter", f.source, "room", env.Id, "error", err)
		return false
	}
	ok, _ := res.(bool)
	return ok
}

// Rooms returns the rooms of st matching the filter, in order.
func (f *Filter) Rooms(st rooms.State, self *types.User, now time.Time) []types.Room {
	matched := make([]types.Room, 0, len(st.Rooms))
	for _, room := range st.Rooms {
		if f.Match(NewEnv(room, st.IsJoined(room.Id), self, now)) {
			matched = append(matched, room)
		}
	}
	return matched
}
