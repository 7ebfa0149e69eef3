package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/recorder"
	"github.com/resume-studio/collabsync/pkg/realtime"
)

const watchHelp = `commands:
  cursor X Y            move your cursor
  select X1 Y1 X2 Y2    set your selection
  type | stop           start or stop typing
  update key=value ...  send document changes
  reconnect             reconnect now
  quit                  leave the room and exit`

func newWatchCmd(cfgPath *string) *cobra.Command {
	var roomID string
	var recordPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a room and follow its collaborators",
		Long:  "Join a room and print connection changes and the roster after every change.\n\n" + watchHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cfg, roomID, recordPath, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "room to join")
	cmd.Flags().StringVar(&recordPath, "record", "", "record every frame to this file")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runWatch(ctx context.Context, cfg config.Config, roomID, recordPath string, in io.Reader, out io.Writer) error {
	logger := pslog.Ctx(ctx)
	userID, username := identity(cfg)
	p := &printer{out: out}

	opts := realtime.Options{Logger: logger}
	if recordPath != "" {
		codec, err := protocol.CodecByName(cfg.Codec)
		if err != nil {
			return err
		}
		rec, err := recorder.New(recordPath, codec, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
		if err := rec.WriteHeader(); err != nil {
			return err
		}
		opts.Recorder = rec
	}

	client, err := realtime.FromConfig(cfg, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	client.On(protocol.EventConnect, func(protocol.Frame) {
		p.printf("connected to %s\n", cfg.URL)
	})
	client.On(protocol.EventDisconnect, func(f protocol.Frame) {
		var ev protocol.ConnectionEvent
		_ = f.Decode(&ev)
		if ev.Reason != "" {
			p.printf("disconnected (%s)\n", ev.Reason)
			return
		}
		p.printf("disconnected\n")
	})
	client.On(protocol.EventReconnect, func(f protocol.Frame) {
		var ev protocol.ConnectionEvent
		_ = f.Decode(&ev)
		p.printf("reconnecting (attempt %d)\n", ev.Attempt)
	})
	client.On(protocol.EventError, func(f protocol.Frame) {
		var e protocol.Error
		_ = f.Decode(&e)
		p.printf("error %s: %s\n", e.Code, e.Message)
	})

	room := client.JoinRoom(realtime.RoomOptions{
		RoomID:        roomID,
		UserID:        userID,
		Username:      username,
		TypingTimeout: cfg.TypingTimeout(),
		OnRosterChange: func(roster []model.Collaborator) {
			p.printf("%s\n", formatRoster(roster))
		},
		OnResumeUpdated: func(u protocol.ResumeUpdate) {
			p.printf("update from %s: %s\n", u.UserID, formatChanges(u.Changes))
		},
	})
	defer room.Close()

	p.printf("joining %s as %s (%s)\n", roomID, username, userID)
	client.Connect()

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c, err := parseCommand(line)
			if err != nil {
				p.printf("%v\n", err)
				continue
			}
			if c.name == "quit" {
				return nil
			}
			applyCommand(c, client, room, p)
		}
	}
}

// readLines streams non-empty input lines until EOF or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

type command struct {
	name      string
	cursor    *model.Position
	selection *model.SelectionRect
	changes   map[string]any
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	c := command{name: fields[0]}
	args := fields[1:]

	switch c.name {
	case "cursor":
		nums, err := parseFloats(args, 2)
		if err != nil {
			return command{}, fmt.Errorf("usage: cursor X Y: %w", err)
		}
		c.cursor = &model.Position{X: nums[0], Y: nums[1]}
	case "select":
		nums, err := parseFloats(args, 4)
		if err != nil {
			return command{}, fmt.Errorf("usage: select X1 Y1 X2 Y2: %w", err)
		}
		c.selection = &model.SelectionRect{StartX: nums[0], StartY: nums[1], EndX: nums[2], EndY: nums[3]}
	case "update":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: update key=value ...")
		}
		c.changes = make(map[string]any, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return command{}, fmt.Errorf("invalid change %q, expected key=value", arg)
			}
			c.changes[key] = value
		}
	case "type", "stop", "reconnect", "quit", "help":
		if len(args) != 0 {
			return command{}, fmt.Errorf("%s takes no arguments", c.name)
		}
	default:
		return command{}, fmt.Errorf("unknown command %q, try help", c.name)
	}
	return c, nil
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d numbers, got %d", n, len(args))
	}
	nums := make([]float64, n)
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", arg)
		}
		nums[i] = v
	}
	return nums, nil
}

func applyCommand(c command, client *realtime.Client, room *realtime.Room, p *printer) {
	switch c.name {
	case "cursor":
		room.UpdatePresence(realtime.Presence{Cursor: c.cursor})
	case "select":
		room.UpdatePresence(realtime.Presence{Selection: c.selection})
	case "type":
		room.SetTyping(true)
	case "stop":
		room.SetTyping(false)
	case "update":
		room.SendUpdate(c.changes)
	case "reconnect":
		client.Reconnect()
	case "help":
		p.printf("%s\n", watchHelp)
	}
}

func formatRoster(roster []model.Collaborator) string {
	if len(roster) == 0 {
		return "roster: (empty)"
	}
	var b strings.Builder
	b.WriteString("roster:")
	for _, c := range roster {
		fmt.Fprintf(&b, "\n  %s (%s)", c.Username, c.UserID)
		if c.Cursor != nil {
			fmt.Fprintf(&b, " cursor=%g,%g", c.Cursor.X, c.Cursor.Y)
		}
		if c.Selection != nil {
			fmt.Fprintf(&b, " selection=%g,%g-%g,%g", c.Selection.StartX, c.Selection.StartY, c.Selection.EndX, c.Selection.EndY)
		}
		if c.IsTyping != nil && *c.IsTyping {
			b.WriteString(" typing")
		}
	}
	return b.String()
}

func formatChanges(changes map[string]any) string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, changes[k]))
	}
	return strings.Join(parts, " ")
}
