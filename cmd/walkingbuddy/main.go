package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tcriess/walkingbuddy/avatar"
	"github.com/tcriess/walkingbuddy/chat"
	"github.com/tcriess/walkingbuddy/config"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/rooms"
	"github.com/tcriess/walkingbuddy/types"
)

// A command line client for walkingbuddy: list, watch and manage walking rooms and chat in them.

var meetTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"}

func main() {
	var (
		configPath string
		roomFilter string
		globalApp  *app
	)
	flagSet := config.GetFlagSet()

	// open builds the app for a command; the reconciler is created per process, never shared between commands.
	open := func(cmd *cobra.Command) (*app, context.Context, context.CancelFunc, error) {
		cfg, err := config.ReadConfiguration(configPath, flagSet)
		if err != nil {
			return nil, nil, nil, err
		}
		a, err := newApp(cfg, cmd.OutOrStdout(), roomFilter)
		if err != nil {
			return nil, nil, nil, err
		}
		globalApp = a
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		return a, ctx, cancel, nil
	}

	var cmdRooms = &cobra.Command{
		Use:   "rooms",
		Short: "List rooms",
		Long:  `rooms prints the current room list. If the backend is unreachable, the cached list is shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			a.verify(ctx)
			if err := a.reconciler.FetchSnapshot(ctx); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "backend unreachable, showing cached rooms")
			}
			a.reconciler.Wait()
			a.view.Print(a.reconciler.State())
			return nil
		},
	}

	var cmdWatch = &cobra.Command{
		Use:   "watch",
		Short: "Watch rooms",
		Long:  `watch prints the room list and reprints it on every change until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			a.verify(ctx)
			a.view.SetLive(true)
			a.reconciler.LoadFromCache()
			if err := a.reconciler.FetchSnapshot(ctx); err != nil {
				globals.AppLogger.Info("initial refresh failed", "error", err)
			}
			refresher, err := rooms.NewRefresher(a.reconciler, a.cfg.SyncConfig.RefreshSchedule)
			if err != nil {
				return err
			}
			refresher.Start()
			defer refresher.Stop()
			a.listener().Run(ctx)
			return nil
		},
	}

	var (
		createName        string
		createMeetTime    string
		createStart       string
		createDestination string
		createMaxMembers  int
	)
	var cmdCreate = &cobra.Command{
		Use:   "create",
		Short: "Create a room",
		Long:  `create creates a room on the backend and joins it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := rooms.CreateRoomInput{
				Name:          createName,
				StartLocation: createStart,
				Destination:   createDestination,
				MaxMembers:    createMaxMembers,
			}
			if createMeetTime != "" {
				meet, err := parseMeetTime(createMeetTime)
				if err != nil {
					return err
				}
				in.MeetTime = &meet
			}
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			a.verify(ctx)
			a.reconciler.LoadFromCache()
			room, err := a.reconciler.CreateRoom(ctx, in)
			if room.Id == "" {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created room %s\n", room.Id)
			return err
		},
	}
	cmdCreate.Flags().StringVar(&createName, "name", "", "room name")
	cmdCreate.Flags().StringVar(&createMeetTime, "meet-time", "", `meeting time, f.e. "2024-05-01T18:30"`)
	cmdCreate.Flags().StringVar(&createStart, "start", "", "start location")
	cmdCreate.Flags().StringVar(&createDestination, "destination", "", "destination")
	cmdCreate.Flags().IntVar(&createMaxMembers, "max-members", 0, "maximum number of members (0: unlimited)")

	// membership builds join/leave/delete, which all work on a single room id.
	membership := func(use, short, done string, op func(*rooms.Reconciler, context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [room id]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, ctx, cancel, err := open(cmd)
				if err != nil {
					return err
				}
				defer cancel()
				a.verify(ctx)
				a.reconciler.LoadFromCache()
				if err := op(a.reconciler, ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s room %s\n", done, args[0])
				return nil
			},
		}
	}
	cmdJoin := membership("join", "Join a room", "joined", (*rooms.Reconciler).JoinRoom)
	cmdLeave := membership("leave", "Leave a room", "left", (*rooms.Reconciler).LeaveRoom)
	cmdDelete := membership("delete", "Delete a room", "deleted", (*rooms.Reconciler).DeleteRoom)

	var cmdChat = &cobra.Command{
		Use:   "chat [room id]",
		Short: "Chat in a room",
		Long:  `chat prints the messages of a room as they arrive and sends every line read from STDIN. Without a room id, the room joined last is used.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			user := a.verify(ctx)
			roomId := a.cache.CurrentRoom()
			if len(args) > 0 {
				roomId = args[0]
			}
			a.reconciler.LoadFromCache()
			session, err := chat.NewSession(a.client, roomId, user, chat.Options{
				PollInterval: a.cfg.ChatConfig.PollInterval,
				HistoryLimit: a.cfg.ChatConfig.HistoryLimit,
				OnAutoJoin: func(id string, room types.Record) {
					if normalize.HasId(room) {
						a.reconciler.Upsert(room)
					}
					a.reconciler.MarkJoined(id)
				},
			})
			if err != nil {
				return err
			}
			printer := &chatPrinter{out: cmd.OutOrStdout()}
			updates := make(chan []types.ChatMessage)
			go session.Poll(ctx, func(msgs []types.ChatMessage) {
				select {
				case updates <- msgs:
				case <-ctx.Done():
				}
			})
			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msgs := <-updates:
					printer.Show(msgs)
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					msgs, err := session.Send(ctx, line)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "! could not send message: %s\n", err)
						continue
					}
					printer.Show(msgs)
				}
			}
		},
	}

	var cmdWhoami = &cobra.Command{
		Use:   "whoami",
		Short: "Show the local user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			user, source := a.session.Verify(ctx)
			if user == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s <%s> id=%s colour=%s (from %s)\n",
				avatar.Initials(user.Name, user.Email), user.Name, user.Email, user.Id,
				avatar.Color(user.Email+user.Name), source)
			return nil
		},
	}

	var cmdLogout = &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, cancel, err := open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			a.session.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}

	var rootCmd = &cobra.Command{
		Use:           "walkingbuddy",
		Short:         "walkingbuddy room and chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if globalApp != nil {
				globalApp.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)
	for _, cmd := range []*cobra.Command{cmdRooms, cmdWatch} {
		cmd.Flags().StringVar(&roomFilter, "filter", "", `room filter expression, f.e. '!Full && Contains(Destination, "park")'`)
	}
	rootCmd.AddCommand(cmdRooms, cmdWatch, cmdCreate, cmdJoin, cmdLeave, cmdDelete, cmdChat, cmdWhoami, cmdLogout)
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		if globalApp != nil {
			globalApp.Close()
		}
		os.Exit(1)
	}
}

func parseMeetTime(s string) (time.Time, error) {
	for _, layout := range meetTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse meeting time %q", s)
}
