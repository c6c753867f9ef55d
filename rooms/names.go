package rooms

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/walkingbuddy/avatar"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/types"
	"golang.org/x/sync/singleflight"
)

const DefaultNameCacheSize = 512

var errNoName = errors.New("user has no name")

// UserLookup is the part of the backend used to resolve creator names.
type UserLookup interface {
	LookupUsers(ctx context.Context, ids []string) (map[string]types.Record, error)
	GetUser(ctx context.Context, id string) (types.Record, error)
}

// NameResolver resolves user ids to display names: one batch lookup, then one lookup per remaining id. Resolved
// names are kept for the session, failures are not so the next cycle retries them.
type NameResolver struct {
	lookup UserLookup
	cache  *lru.ARCCache
	group  singleflight.Group
	logger hclog.Logger
}

func NewNameResolver(lookup UserLookup, size int) (*NameResolver, error) {
	if size <= 0 {
		size = DefaultNameCacheSize
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &NameResolver{
		lookup: lookup,
		cache:  cache,
		logger: globals.AppLogger.Named("names"),
	}, nil
}

// Cached returns the name resolved earlier in this session.
func (n *NameResolver) Cached(id string) (string, bool) {
	v, ok := n.cache.Get(id)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Resolve returns the names of ids it could resolve; unresolvable ids are missing from the result.
func (n *NameResolver) Resolve(ctx context.Context, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	missing := make([]string, 0, len(ids))
	for _, id := range dedupIds(ids) {
		if name, ok := n.Cached(id); ok {
			names[id] = name
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 || n.lookup == nil {
		return names
	}

	users, err := n.lookup.LookupUsers(ctx, missing)
	if err != nil {
		n.logger.Debug("batch user lookup failed", "ids", missing, "error", err)
	}
	remaining := missing[:0]
	for _, id := range missing {
		if name := displayName(users[id]); name != "" {
			n.cache.Add(id, name)
			names[id] = name
			continue
		}
		remaining = append(remaining, id)
	}

	for _, id := range remaining {
		id := id
		v, err, _ := n.group.Do(id, func() (interface{}, error) {
			user, err := n.lookup.GetUser(ctx, id)
			if err != nil {
				return "", err
			}
			name := displayName(user)
			if name == "" {
				return "", errNoName
			}
			n.cache.Add(id, name)
			return name, nil
		})
		if err != nil {
			n.logger.Debug("user lookup failed", "id", id, "error", err)
			continue
		}
		names[id] = v.(string)
	}
	return names
}

// Placeholder is the name shown for a user whose name is not (yet) known. It depends on the id only.
func Placeholder(id string) string {
	return avatar.Placeholder(id)
}

func displayName(user types.Record) string {
	if user == nil {
		return ""
	}
	for _, key := range normalize.UserNameKeys {
		if s, ok := normalize.AsString(user[key]); ok {
			return s
		}
	}
	return ""
}
