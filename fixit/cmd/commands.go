package main

import (
	"bufio"
	"context"
	"errors"
	"fixit/fixit/utils/color"
	"fixit/fixit/utils/jsonutils"
	"fixit/fixit/utils/types"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// maxHistory matches the server's cap; the server keeps the first entries,
// so the client trims from the front to keep the latest turns.
const maxHistory = 50

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask Fix It AI for help",
	Long: `With a message argument, sends one question and prints the answer.
Without one, starts an interactive session; type 'exit' to quit.`,
	Example: `  fixit chat "my wifi keeps dropping"
  fixit chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := currentState()
		if err != nil {
			return err
		}
		s := &chatSession{client: newAPIClient(serverURL), userID: st.UserID, out: cmd.OutOrStdout()}
		if len(args) > 0 {
			return s.send(cmd.Context(), strings.Join(args, " "))
		}
		return s.repl(cmd.Context(), cmd.InOrStdin())
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's message quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := currentState()
		if err != nil {
			return err
		}
		u, err := newAPIClient(serverURL).Usage(cmd.Context(), st.UserID)
		if err != nil {
			return err
		}
		if asJSON {
			fmt.Fprintln(cmd.OutOrStdout(), jsonutils.ToJSON(u))
			return nil
		}
		printUsage(cmd.OutOrStdout(), u)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newAPIClient(serverURL).Health(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			fmt.Fprintln(cmd.OutOrStdout(), jsonutils.ToJSON(h))
			return nil
		}
		status := color.ColorInfo(h.Status)
		if h.Status != "ok" {
			status = color.ColorWarning(h.Status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", status, color.ColorMuted(h.Timestamp))
		return nil
	},
}

var (
	resetID bool
	asJSON  bool
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the anonymous user id",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveStatePath()
		if err != nil {
			return err
		}
		if resetID {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		st, err := loadOrCreateState(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.UserID)
		return nil
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&resetID, "reset", false, "forget the current id and create a new one")
	usageCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	healthCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
}

func currentState() (cliState, error) {
	path, err := resolveStatePath()
	if err != nil {
		return cliState{}, err
	}
	return loadOrCreateState(path)
}

type chatSession struct {
	client  *apiClient
	userID  string
	history []types.ChatMessage
	out     io.Writer
}

// send posts the conversation plus text. The turn is kept only if the
// server answered.
func (s *chatSession) send(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msgs := append(s.history, types.ChatMessage{Role: "user", Content: text})
	if len(msgs) > maxHistory {
		msgs = msgs[len(msgs)-maxHistory:]
	}

	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	resp, err := s.client.Chat(ctx, types.ChatRequest{Messages: msgs, UserID: s.userID})
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.Quota != nil {
			fmt.Fprintf(s.out, "%s (%d/%d used, resets %s)\n",
				color.ColorWarning(ae.Quota.Error), ae.Quota.Used, ae.Quota.Limit, ae.Quota.ResetTime)
			return nil
		}
		return err
	}

	s.history = append(msgs, types.ChatMessage{Role: "assistant", Content: resp.Content})
	fmt.Fprintln(s.out, color.ColorReply(resp.Content))
	fmt.Fprintln(s.out, color.ColorMuted(fmt.Sprintf("%d of %d messages left today", resp.Usage.Remaining, resp.Usage.Limit)))
	return nil
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, color.ColorInfo("Describe your problem. Type 'exit' to quit."))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, color.ColorPrompt("fixit> "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "" {
			continue
		}
		if err := s.send(ctx, line); err != nil {
			fmt.Fprintln(s.out, color.ColorError(err.Error()))
		}
	}
}

func printUsage(w io.Writer, u *types.UsageResponse) {
	fmt.Fprintf(w, "%s %d/%d\n", color.ColorInfo("used:"), u.Used, u.Limit)
	fmt.Fprintf(w, "%s %d\n", color.ColorInfo("remaining:"), u.Remaining)
	fmt.Fprintf(w, "%s %s\n", color.ColorInfo("resets:"), u.ResetTime)
}
