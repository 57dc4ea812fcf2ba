package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"clawgate/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. It waits for
// each reply before reading the next line, so an approval prompt can share
// the same input (see Input).
type CLI struct {
	logger  *slog.Logger
	in      *bufio.Reader
	out     io.Writer
	replies chan domain.OutboundMessage
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      bufio.NewReader(cfg.In),
		out:     cfg.Out,
		replies: make(chan domain.OutboundMessage, 1),
	}
}

func (c *CLI) Name() string { return "cli" }

// Input is the reader the REPL consumes. Interactive approval prompts must
// read from it rather than from the raw input to avoid losing buffered lines.
func (c *CLI) Input() io.Reader { return c.in }

// Output is where the REPL writes.
func (c *CLI) Output() io.Writer { return c.out }

// Start runs the REPL until EOF, /quit, or ctx cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		select {
		case c.replies <- msg:
		default:
			// Nobody is waiting; print directly.
			c.print(msg.Content)
		}
	})

	fmt.Fprintln(c.out, "clawgate CLI. Type your message and press Enter. Type /quit to exit.")
	for {
		fmt.Fprint(c.out, "You> ")
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		}

		bus.Publish(domain.InboundMessage{
			Channel:  "cli",
			SenderID: "user",
			Content:  line,
		})

		select {
		case msg := <-c.replies:
			c.print(msg.Content)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *CLI) print(content string) {
	fmt.Fprintln(c.out, "--- clawgate ---")
	fmt.Fprintln(c.out, content)
	fmt.Fprintln(c.out, "----------------")
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}
