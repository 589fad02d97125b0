package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/berry/internal/api"
	"github.com/matheus3301/berry/internal/lock"
	"github.com/matheus3301/berry/internal/paths"
	"github.com/urfave/cli/v2"
)

const callTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "berryctl",
		Usage: "control a running berryd",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Usage: "base directory", EnvVars: []string{paths.EnvHome}},
			&cli.BoolFlag{Name: "json", Usage: "output in JSON format"},
		},
		Before: func(c *cli.Context) error {
			paths.Resolve(c.String("home"))
			return nil
		},
		Commands: []*cli.Command{
			{Name: "status", Usage: "show session and store status", Action: withClient(cmdStatus)},
			{Name: "health", Usage: "show the gRPC health status", Action: withClient(cmdHealth)},
			{
				Name:  "connect",
				Usage: "connect and log in; omitted values come from config.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host"},
					&cli.IntFlag{Name: "port"},
					&cli.StringFlag{Name: "domain"},
					&cli.StringFlag{Name: "user"},
					&cli.StringFlag{Name: "password", EnvVars: []string{"BERRY_PASSWORD"}},
					&cli.BoolFlag{Name: "register", Usage: "create the account first"},
					&cli.BoolFlag{Name: "save", Usage: "store server and credentials in config.toml"},
				},
				Action: withClient(cmdConnect),
			},
			{Name: "disconnect", Usage: "end the session", Action: withClient(cmdDisconnect)},
			{Name: "send", Usage: "send a text message", ArgsUsage: "<contact> <text...>", Action: withClient(cmdSend)},
			{Name: "send-file", Usage: "upload a file and send its link", ArgsUsage: "<contact> <path>", Action: withClient(cmdSendFile)},
			{
				Name:      "typing",
				Usage:     "send a chat state",
				ArgsUsage: "<contact>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "stop", Usage: "send paused instead of composing"}},
				Action:    withClient(cmdTyping),
			},
			{
				Name:      "retract",
				Usage:     "retract a sent message",
				ArgsUsage: "<contact> <protocol-id>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "delete-local", Usage: "also delete the local copy"}},
				Action:    withClient(cmdRetract),
			},
			{Name: "edit", Usage: "edit a stored message", ArgsUsage: "<id> <text...>", Action: withClient(cmdEdit)},
			{Name: "delete", Usage: "delete a stored message", ArgsUsage: "<id>", Action: withClient(cmdDelete)},
			{Name: "clear", Usage: "delete a whole conversation", ArgsUsage: "<contact>", Action: withClient(cmdClear)},
			{
				Name:      "history",
				Usage:     "show a conversation",
				ArgsUsage: "<contact>",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action:    withClient(cmdHistory),
			},
			{
				Name:      "search",
				Usage:     "search message bodies",
				ArgsUsage: "<query...>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contact"},
					&cli.IntFlag{Name: "limit"},
				},
				Action: withClient(cmdSearch),
			},
			{Name: "conversations", Aliases: []string{"ls"}, Usage: "list conversations, newest first", Action: withClient(cmdConversations)},
			{Name: "read", Usage: "mark a conversation read", ArgsUsage: "<contact>", Action: withClient(cmdRead)},
			{Name: "active", Usage: "set the open conversation; no argument clears it", ArgsUsage: "[contact]", Action: withClient(cmdActive)},
			{Name: "notifications", Usage: "turn notifications on or off", ArgsUsage: "<on|off>", Action: withClient(cmdNotifications)},
			{
				Name:  "storage",
				Usage: "inspect or move the message store",
				Subcommands: []*cli.Command{
					{Name: "locations", Usage: "list storage locations", Action: withClient(cmdStorageLocations)},
					{
						Name:      "move",
						Usage:     "relocate the store",
						ArgsUsage: "<app-private|shared-external|alternate-external|custom>",
						Flags:     []cli.Flag{&cli.StringFlag{Name: "path", Usage: "root for the custom location"}},
						Action:    withClient(cmdStorageMove),
					},
				},
			},
			{
				Name:  "gateway",
				Usage: "drive the legacy-network gateway",
				Subcommands: []*cli.Command{
					{Name: "commands", Usage: "list gateway commands", Action: withClient(cmdGatewayCommands)},
					{Name: "register", Usage: "register with the gateway", Action: withClient(cmdGatewayRegister)},
					{Name: "pair", Usage: "show the pairing QR code", Action: withClient(cmdGatewayPair)},
					{Name: "login", Usage: "log the gateway in", Action: withClient(cmdGatewayLogin)},
					{Name: "logout", Usage: "log the gateway out", Action: withClient(cmdGatewayLogout)},
				},
			},
			{
				Name:   "watch",
				Usage:  "stream daemon events",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "prefix", Usage: "event kind prefix, e.g. message."}},
				Action: cmdWatch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type action func(ctx context.Context, c *api.Client, cc *cli.Context) error

// withClient dials the daemon and runs fn under the call timeout.
func withClient(fn action) cli.ActionFunc {
	return func(cc *cli.Context) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := context.WithTimeout(cc.Context, callTimeout)
		defer cancel()
		return fn(ctx, c, cc)
	}
}

func dial() (*api.Client, error) {
	if _, err := os.Stat(paths.SocketPath()); err != nil && lock.Holder(paths.LockPath()) == 0 {
		return nil, cli.Exit("berryd is not running (start it with: berryd)", 1)
	}
	c, err := api.Dial(paths.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("cannot connect to berryd: %w", err)
	}
	return c, nil
}

func args(cc *cli.Context, n int) error {
	if cc.NArg() < n {
		return cli.Exit(fmt.Sprintf("usage: berryctl %s %s", cc.Command.FullName(), cc.Command.ArgsUsage), 2)
	}
	return nil
}

func cmdStatus(ctx context.Context, c *api.Client, cc *cli.Context) error {
	resp, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(resp)
	}
	fmt.Printf("State:         %s\n", resp.State)
	if resp.JID != "" {
		fmt.Printf("JID:           %s\n", resp.JID)
	}
	fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Messages:      %d in %d conversations (%d unread)\n", resp.Messages, resp.Contacts, resp.Unread)
	fmt.Printf("Storage:       %s (%s)\n", resp.StorageLocation, resp.StoragePath)
	fmt.Printf("Notifications: %s\n", onOff(resp.NotificationsEnabled))
	if resp.ActiveContact != "" {
		fmt.Printf("Active:        %s\n", resp.ActiveContact)
	}
	return nil
}

func cmdHealth(ctx context.Context, c *api.Client, cc *cli.Context) error {
	st, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(map[string]string{"status": st.String()})
	}
	fmt.Println(st.String())
	return nil
}

func cmdConnect(ctx context.Context, c *api.Client, cc *cli.Context) error {
	resp, err := c.Connect(ctx, &api.ConnectRequest{
		Host:     cc.String("host"),
		Port:     cc.Int("port"),
		Domain:   cc.String("domain"),
		User:     cc.String("user"),
		Password: cc.String("password"),
		Register: cc.Bool("register"),
		Save:     cc.Bool("save"),
	})
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(resp)
	}
	fmt.Printf("%s as %s\n", resp.State, resp.JID)
	return nil
}

func cmdDisconnect(ctx context.Context, c *api.Client, _ *cli.Context) error {
	return c.Disconnect(ctx)
}

func cmdSend(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 2); err != nil {
		return err
	}
	m, err := c.Send(ctx, cc.Args().First(), strings.Join(cc.Args().Tail(), " "))
	if err != nil {
		return err
	}
	return printMessage(cc, m)
}

func cmdSendFile(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 2); err != nil {
		return err
	}
	m, err := c.SendFile(ctx, cc.Args().Get(0), cc.Args().Get(1))
	if err != nil {
		return err
	}
	return printMessage(cc, m)
}

func cmdTyping(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	return c.SetTyping(ctx, cc.Args().First(), !cc.Bool("stop"))
}

func cmdRetract(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 2); err != nil {
		return err
	}
	return c.Retract(ctx, &api.RetractRequest{
		Contact:     cc.Args().Get(0),
		ProtocolID:  cc.Args().Get(1),
		DeleteLocal: cc.Bool("delete-local"),
	})
}

func cmdEdit(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 2); err != nil {
		return err
	}
	id, err := strconv.ParseInt(cc.Args().First(), 10, 64)
	if err != nil {
		return cli.Exit("id must be a number", 2)
	}
	ok, err := c.Edit(ctx, id, strings.Join(cc.Args().Tail(), " "))
	if err != nil {
		return err
	}
	return printChanged(cc, ok)
}

func cmdDelete(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	id, err := strconv.ParseInt(cc.Args().First(), 10, 64)
	if err != nil {
		return cli.Exit("id must be a number", 2)
	}
	ok, err := c.Delete(ctx, id)
	if err != nil {
		return err
	}
	return printChanged(cc, ok)
}

func cmdClear(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	n, err := c.ClearConversation(ctx, cc.Args().First())
	if err != nil {
		return err
	}
	return printCount(cc, "deleted", n)
}

func cmdHistory(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	msgs, err := c.History(ctx, cc.Args().First(), cc.Int("limit"))
	if err != nil {
		return err
	}
	return printMessages(cc, msgs)
}

func cmdSearch(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	msgs, err := c.Search(ctx, &api.SearchRequest{
		Query:   strings.Join(cc.Args().Slice(), " "),
		Contact: cc.String("contact"),
		Limit:   cc.Int("limit"),
	})
	if err != nil {
		return err
	}
	return printMessages(cc, msgs)
}

func cmdConversations(ctx context.Context, c *api.Client, cc *cli.Context) error {
	convs, err := c.Conversations(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(convs)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, conv := range convs {
		unread := ""
		if conv.Unread > 0 {
			unread = fmt.Sprintf(" (%d)", conv.Unread)
		}
		fmt.Printf("%-30s %s%s  %s\n", conv.Contact, formatTime(conv.Last.CreatedAtMs), unread, preview(conv.Last.Body))
	}
	return nil
}

func cmdRead(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	n, err := c.MarkRead(ctx, cc.Args().First())
	if err != nil {
		return err
	}
	return printCount(cc, "marked read", n)
}

func cmdActive(ctx context.Context, c *api.Client, cc *cli.Context) error {
	return c.SetActive(ctx, cc.Args().First())
}

func cmdNotifications(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	switch cc.Args().First() {
	case "on":
		return c.SetNotifications(ctx, true)
	case "off":
		return c.SetNotifications(ctx, false)
	default:
		return cli.Exit("usage: berryctl notifications <on|off>", 2)
	}
}

func cmdStorageLocations(ctx context.Context, c *api.Client, cc *cli.Context) error {
	locs, err := c.StorageLocations(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(locs)
	}
	for _, l := range locs {
		mark := " "
		if l.Current {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s\n", mark, l.Name, l.Path)
	}
	return nil
}

func cmdStorageMove(ctx context.Context, c *api.Client, cc *cli.Context) error {
	if err := args(cc, 1); err != nil {
		return err
	}
	// Copying a large store can outlast the default call timeout.
	ctx, cancel := context.WithTimeout(cc.Context, 10*time.Minute)
	defer cancel()
	resp, err := c.RelocateStorage(ctx, cc.Args().First(), cc.String("path"))
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(resp)
	}
	if resp.Copied {
		fmt.Printf("Copied %s -> %s\n", resp.OldPath, resp.NewPath)
	} else {
		fmt.Printf("Now using %s\n", resp.NewPath)
	}
	return nil
}

func cmdGatewayCommands(ctx context.Context, c *api.Client, cc *cli.Context) error {
	resp, err := c.GatewayCommands(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(resp)
	}
	fmt.Printf("Gateway: %s\n", resp.Gateway)
	for _, cmd := range resp.Commands {
		fmt.Printf("  %-30s %s\n", cmd.Node, cmd.Name)
	}
	return nil
}

func cmdGatewayRegister(ctx context.Context, c *api.Client, cc *cli.Context) error {
	resp, err := c.GatewayRegister(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(resp)
	}
	fmt.Printf("Registration %s\n", resp.Status)
	if resp.Note != "" {
		fmt.Println(resp.Note)
	}
	return nil
}

func cmdGatewayPair(ctx context.Context, c *api.Client, cc *cli.Context) error {
	qr, err := c.GatewayPair(ctx)
	if err != nil {
		return err
	}
	if cc.Bool("json") {
		return outputJSON(map[string]string{"qr": qr})
	}
	art, err := renderQR(qr)
	if err != nil {
		return fmt.Errorf("render QR: %w", err)
	}
	fmt.Print(art)
	fmt.Println("Scan with WhatsApp > Linked devices > Link a device")
	return nil
}

func cmdGatewayLogin(ctx context.Context, c *api.Client, _ *cli.Context) error {
	return c.GatewayLogin(ctx)
}

func cmdGatewayLogout(ctx context.Context, c *api.Client, _ *cli.Context) error {
	return c.GatewayLogout(ctx)
}

func cmdWatch(cc *cli.Context) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(cc.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	jsonOut := cc.Bool("json")
	err = c.Watch(ctx, cc.String("prefix"), func(e *api.Event) error {
		if jsonOut {
			return outputJSON(e)
		}
		fmt.Printf("%s %-24s %s\n", formatTime(e.OccurredAtMs), e.Kind, string(e.Payload))
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printMessage(cc *cli.Context, m *api.Message) error {
	if cc.Bool("json") {
		return outputJSON(m)
	}
	fmt.Printf("#%d %s\n", m.ID, m.ProtocolID)
	return nil
}

func printMessages(cc *cli.Context, msgs []api.Message) error {
	if cc.Bool("json") {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		arrow := "<"
		if m.Direction == "sent" {
			arrow = ">"
		}
		body := m.Body
		if m.AttachmentURL != "" && m.AttachmentURL != body {
			body += " [" + m.AttachmentURL + "]"
		}
		edited := ""
		if m.EditedAtMs != 0 {
			edited = " (edited)"
		}
		fmt.Printf("%6d %s %s %-24s %s%s\n", m.ID, formatTime(m.CreatedAtMs), arrow, m.Contact, body, edited)
	}
	return nil
}

func printChanged(cc *cli.Context, ok bool) error {
	if cc.Bool("json") {
		return outputJSON(map[string]bool{"changed": ok})
	}
	if !ok {
		fmt.Println("No such message.")
	}
	return nil
}

func printCount(cc *cli.Context, what string, n int64) error {
	if cc.Bool("json") {
		return outputJSON(map[string]int64{"count": n})
	}
	fmt.Printf("%d %s\n", n, what)
	return nil
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:59]) + "…"
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
