package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tcriess/walkingbuddy/config"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/persistence"
	"github.com/tcriess/walkingbuddy/types"
)

// A very simple CLI tool for inspecting and editing the local walkingbuddy cache.

func main() {
	var configPath string
	flagSet := config.GetFlagSet()

	// withCache opens the configured store for the duration of fn.
	withCache := func(fn func(store persistence.Store, cache *persistence.LocalCache) error) error {
		cfg, err := config.ReadConfiguration(configPath, flagSet)
		if err != nil {
			return err
		}
		globals.SetLogLevel(cfg.LogLevel)
		store, err := persistence.NewStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store, persistence.NewLocalCache(store, nil))
	}
	printJSON := func(cmd *cobra.Command, v interface{}) error {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}
	normalizer := normalize.New(nil)

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show cached rooms or user",
		Long:  `show is for printing the cached rooms, a single room, the joined room ids or the stored user.`,
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms prints the raw records of all cached rooms.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				raws, _ := cache.Load()
				return printJSON(cmd, raws)
			})
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints the normalized room with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				raws, _ := cache.Load()
				for _, room := range normalizer.Rooms(raws) {
					if room.Id == args[0] {
						return printJSON(cmd, room)
					}
				}
				return fmt.Errorf("room %s is not cached", args[0])
			})
		},
	}
	var cmdShowJoined = &cobra.Command{
		Use:   "joined",
		Short: "Show joined room ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				_, joined := cache.Load()
				return printJSON(cmd, map[string]interface{}{
					"joined":      joined,
					"currentRoom": cache.CurrentRoom(),
				})
			})
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user",
		Short: "Show stored user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				raw, ok := cache.LoadUser()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no user stored")
					return nil
				}
				return printJSON(cmd, normalize.User(raw))
			})
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a cached room",
		Long:  `delete removes cached data.`,
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id from the cached rooms and the joined room ids.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				raws, joined := cache.Load()
				rooms := normalizer.Rooms(raws)
				kept := rooms[:0]
				for _, room := range rooms {
					if room.Id != args[0] {
						kept = append(kept, room)
					}
				}
				keptJoined := make([]string, 0, len(joined))
				for _, id := range joined {
					if id != args[0] {
						keptJoined = append(keptJoined, id)
					}
				}
				if len(kept) == len(rooms) && len(keptJoined) == len(joined) {
					globals.AppLogger.Warn("room is not cached", "room", args[0])
					return nil
				}
				cache.Save(kept, keptJoined)
				if cache.CurrentRoom() == args[0] {
					cache.SetCurrentRoom("")
				}
				return nil
			})
		},
	}

	var joinRoom bool
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "Create/update a cached room",
		Long:  `set creates or updates cached data.`,
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a cached room from its raw JSON record. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader
			if args[0] == "-" {
				r = cmd.InOrStdin()
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			raw := types.Record{}
			if err := json.NewDecoder(r).Decode(&raw); err != nil {
				return fmt.Errorf("could not decode room: %w", err)
			}
			if !normalize.HasId(raw) {
				return fmt.Errorf("no room id")
			}
			return withCache(func(_ persistence.Store, cache *persistence.LocalCache) error {
				raws, joined := cache.Load()
				rooms := normalizer.Rooms(raws)
				room := normalizer.Room(raw)
				globals.AppLogger.Info("got room", "room", room.Id, "name", room.Name)
				replaced := false
				for i := range rooms {
					if rooms[i].Id == room.Id {
						rooms[i] = room
						replaced = true
						break
					}
				}
				if !replaced {
					globals.AppLogger.Info("room is not cached, adding")
					rooms = append(rooms, room)
				}
				if joinRoom {
					found := false
					for _, id := range joined {
						found = found || id == room.Id
					}
					if !found {
						joined = append(joined, room.Id)
					}
				}
				cache.Save(rooms, joined)
				return nil
			})
		},
	}
	cmdSetRoom.Flags().BoolVar(&joinRoom, "joined", false, "also mark the room as joined")

	var cmdClear = &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache",
		Long:  `clear removes every slot of the cache, including the stored user.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(func(store persistence.Store, _ *persistence.LocalCache) error {
				for _, slot := range []string{persistence.SlotRooms, persistence.SlotJoinedRooms, persistence.SlotUser, persistence.SlotCurrentRoom} {
					if err := store.Delete(slot); err != nil && err != persistence.ErrNotFound {
						return fmt.Errorf("could not delete slot %s: %w", slot, err)
					}
				}
				return nil
			})
		},
	}

	var rootCmd = &cobra.Command{Use: "walkingbuddy-cache", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)
	rootCmd.AddCommand(cmdShow, cmdDelete, cmdSet, cmdClear)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowJoined, cmdShowUser)
	cmdDelete.AddCommand(cmdDeleteRoom)
	cmdSet.AddCommand(cmdSetRoom)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
