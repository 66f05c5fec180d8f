// Command chatsim drives a deal chat from the command line: it logs in as a
// participant, sends a few messages and prints the counterparty's replies.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealroom/internal/engine"
	"dealroom/internal/realtime"

	"github.com/spf13/pflag"
)

// Options are the command line settings.
type Options struct {
	Host     string
	User     string
	Deal     string
	Count    int
	Interval time.Duration
	Wait     time.Duration
	Watch    bool
}

func main() {
	var opts Options
	flags := pflag.NewFlagSet("chatsim", pflag.ExitOnError)
	flags.StringVar(&opts.Host, "host", "localhost:8375", "API server host")
	flags.StringVarP(&opts.User, "user", "u", "buyer-1", "participant id to log in as")
	flags.StringVarP(&opts.Deal, "deal", "d", "deal-001", "deal whose chat to drive")
	flags.IntVarP(&opts.Count, "count", "n", 3, "messages to send")
	flags.DurationVar(&opts.Interval, "interval", 500*time.Millisecond, "pause between messages")
	flags.DurationVar(&opts.Wait, "wait", 15*time.Second, "how long to wait for replies")
	flags.BoolVarP(&opts.Watch, "watch", "w", false, "print websocket events while running")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("chatsim: %v", err)
	}
}

func run(ctx context.Context, opts Options, out io.Writer) error {
	if opts.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	client := NewClient(opts.Host)

	sess, err := client.Login(ctx, opts.User)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s (%s)\n", sess.User.Name, sess.User.Role)
	if !sess.Visibility.ConversationsActive {
		return fmt.Errorf("%s cannot use deal chats", opts.User)
	}

	view, err := client.OpenChat(ctx, opts.Deal)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "chat %q with %s\n", view.Deal.Title, view.Counterparty.Name)
	before := len(view.Transcript)

	if opts.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			err := client.Watch(watchCtx, opts.Deal, func(env realtime.Envelope) {
				fmt.Fprintf(out, "  event %s %s\n", env.Type, string(env.Payload))
			})
			if err != nil {
				log.Printf("watch stopped: %v", err)
			}
		}()
	}

	for i := range opts.Count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		msg, err := client.Send(ctx, opts.Deal, fmt.Sprintf("Message %d from %s", i+1, sess.User.Name))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s\n", msg.ID)
	}

	view, err = waitForReplies(ctx, client, opts, before+2*opts.Count)
	if err != nil {
		return err
	}
	for _, entry := range view.Transcript {
		who := view.Counterparty.Name
		if entry.Own {
			who = sess.User.Name
		}
		fmt.Fprintf(out, "%s  %-12s %s\n", entry.Message.CreatedAt.Format(time.Kitchen), who, entry.Message.Content)
	}

	notes, err := client.Notifications(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "unread notifications: %d (badge %q)\n", notes.UnreadCount, notes.Badge.Label)
	return nil
}

// waitForReplies polls the chat until it holds want entries or the wait
// runs out. Running out is not an error: the transcript so far is returned.
func waitForReplies(ctx context.Context, client *Client, opts Options, want int) (engine.ChatView, error) {
	deadline := time.Now().Add(opts.Wait)
	for {
		view, err := client.OpenChat(ctx, opts.Deal)
		if err != nil {
			return engine.ChatView{}, err
		}
		if len(view.Transcript) >= want || time.Now().After(deadline) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
