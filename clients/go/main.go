// burnroom CLI - command line client for burnroom ephemeral chat rooms
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eldtechnologies/burnroom/clients/go/burnroom"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("BURNROOM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := burnroom.NewClient(baseURL, "")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "create":
		roomID, err := client.CreateRoom(ctx)
		exitOnError(err)
		_, err = client.Join(ctx, roomID)
		exitOnError(err)
		fmt.Printf("Room: %s\n", roomID)

	case "join":
		roomID := requireArg(2, "join <room>")
		_, err := client.Join(ctx, roomID)
		exitOnError(err)
		ttl, err := client.TTL(ctx, roomID)
		exitOnError(err)
		fmt.Printf("Joined %s (%s left)\n", roomID, burnroom.FormatRemaining(ttl))

	case "send":
		roomID := requireArg(2, "send <room> <message>")
		text := strings.Join(os.Args[3:], " ")
		if text == "" {
			fmt.Fprintln(os.Stderr, "Usage: burnroom send <room> <message>")
			os.Exit(1)
		}
		name, err := client.Username()
		exitOnError(err)
		exitOnError(client.Send(ctx, roomID, name, text))

	case "read":
		roomID := requireArg(2, "read <room>")
		msgs, err := client.Messages(ctx, roomID)
		exitOnError(err)
		for _, msg := range msgs {
			printMessage(msg)
		}

	case "ttl":
		roomID := requireArg(2, "ttl <room>")
		ttl, err := client.TTL(ctx, roomID)
		exitOnError(err)
		fmt.Println(burnroom.FormatRemaining(ttl))

	case "destroy":
		roomID := requireArg(2, "destroy <room>")
		exitOnError(client.Destroy(ctx, roomID))
		fmt.Println("Room destroyed")

	case "listen":
		roomID := requireArg(2, "listen <room>")
		listen(ctx, client, roomID)

	case "whoami":
		name, err := client.Username()
		exitOnError(err)
		fmt.Println(name)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// listen prints the room's messages as they arrive and exits once the
// room is destroyed or expires.
func listen(ctx context.Context, client *burnroom.Client, roomID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ttl, err := client.TTL(ctx, roomID)
	exitOnError(err)
	fmt.Printf("Listening on %s (%s left)\n", roomID, burnroom.FormatRemaining(ttl))

	expired := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ttl, err := client.TTL(ctx, roomID)
				if burnroom.IsNotFound(err) || (err == nil && ttl == 0) {
					close(expired)
					cancel()
					return
				}
			}
		}
	}()

	err = client.Listen(ctx, roomID, func(ev burnroom.Event) error {
		switch ev.Name {
		case burnroom.EventMessage:
			msg, err := ev.Message()
			if err != nil {
				return nil
			}
			printMessage(msg)
		case burnroom.EventDestroy:
			fmt.Println("Room destroyed")
		}
		return nil
	})

	select {
	case <-expired:
		fmt.Println("Room expired")
		return
	default:
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	exitOnError(err)
}

func printMessage(msg burnroom.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	marker := " "
	if msg.Mine() {
		marker = "*"
	}
	fmt.Printf("[%s]%s %s: %s\n", ts, marker, msg.Sender, msg.Text)
}

func requireArg(i int, usageLine string) string {
	if len(os.Args) <= i || os.Args[i] == "" {
		fmt.Fprintln(os.Stderr, "Usage: burnroom "+usageLine)
		os.Exit(1)
	}
	return os.Args[i]
}

func usage() {
	fmt.Println(`burnroom CLI - ephemeral, self-destructing chat rooms

Usage: burnroom <command> [options]

Commands:
  create                  Create a room and join it
  join <room>             Join a room
  send <room> <message>   Send a message
  read <room>             Print the room's messages
  listen <room>           Stream messages until the room is gone
  ttl <room>              Show the time left (MM:SS)
  destroy <room>          Destroy a room for everyone
  whoami                  Show your anonymous username
  health                  Check server health

Environment:
  BURNROOM_URL      Server URL (default: http://localhost:8080)
  BURNROOM_CONFIG   Config directory (default: ~/.burnroom)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
