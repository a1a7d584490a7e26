package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/converse/internal/app"
	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/processor"
	"github.com/ent0n29/converse/internal/session"
)

func newShellCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Talk to the assistant in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.SessionStore, _ = cmd.Flags().GetString("store")
			} else if cfg.SessionStore == config.StoreAuto && cfg.DatabaseURL == "" {
				cfg.SessionStore = config.StoreMemory
			}
			res, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer res.Cleanup()
			return runShell(cmd.Context(), res.Processor, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "shell", "session id to talk in")
	cmd.Flags().String("store", "", "session store backend (memory|file|sqlite|postgres)")
	return cmd
}

// runShell reads one user message per line. Lines starting with / are shell
// commands: /slots, /restart and /quit.
func runShell(ctx context.Context, proc *processor.Processor, sessionID string, in io.Reader, w io.Writer) error {
	out := channel.NewWriter(w, "bot> ")
	fmt.Fprintln(w, "Type a message, /slots, /restart or /quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/slots":
			s, err := proc.Session(ctx, sessionID)
			if errors.Is(err, session.ErrNotFound) {
				fmt.Fprintln(w, "(no session yet)")
				continue
			}
			if err != nil {
				return err
			}
			printSlots(w, s.SlotValues())
			continue
		case "/restart":
			if err := proc.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
				return err
			}
			fmt.Fprintln(w, "(session restarted)")
			continue
		}

		err := proc.HandleMessage(ctx, processor.UserMessage{
			SessionID:    sessionID,
			Text:         line,
			InputChannel: out.Name(),
			Output:       out,
		})
		switch {
		case errors.Is(err, processor.ErrSessionInactive):
			fmt.Fprintln(w, "(session is closed, /restart to begin again)")
		case err != nil:
			fmt.Fprintf(w, "(turn failed: %v)\n", err)
		}
	}
}

func printSlots(w io.Writer, values map[string]any) {
	if len(values) == 0 {
		fmt.Fprintln(w, "(no slots set)")
		return
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %v\n", name, values[name])
	}
}
