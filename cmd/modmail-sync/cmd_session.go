package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionSendCmd, sessionPinCmd, sessionCloseCmd, sessionRateCmd)
	sessionSendCmd.Flags().Bool("anonymous", false, "send without revealing the moderator name")
	sessionPinCmd.Flags().Bool("unpin", false, "unpin instead of pin")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and act on sessions through the running daemon",
}

// daemonURL builds a request URL against the daemon's HTTP surface.
func daemonURL(path string) string {
	cfg := loadConfig()
	return "http://" + cfg.HTTP.Listen + path
}

func daemonGet(path string, out any) error {
	resp, err := http.Get(daemonURL(path))
	if err != nil {
		return fmt.Errorf("daemon not reachable (is it running with http enabled?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func daemonPost(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(daemonURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("daemon not reachable (is it running with http enabled?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("action failed: %s", string(data))
	}
	return nil
}

type connectivityStatus struct {
	Connectivity string    `json:"connectivity"`
	Error        string    `json:"error"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

func fetchConnectivity(listen string) (*connectivityStatus, error) {
	var conn connectivityStatus
	resp, err := http.Get("http://" + listen + "/api/connectivity")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions in the current view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessions []types.Session
		if err := daemonGet("/api/view/sessions", &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions in the current view.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTATUS\tPINNED\tLAST ACTIVITY")
		for _, s := range sessions {
			pinned := ""
			if s.IsPinned {
				pinned = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID,
				s.User.Username,
				s.Status,
				pinned,
				s.LastActivity.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <id> <message>",
	Short: "Send a message to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		anonymous, _ := cmd.Flags().GetBool("anonymous")
		err := daemonPost("/api/actions/message", map[string]any{
			"sessionId": args[0],
			"content":   args[1],
			"anonymous": anonymous,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Message sent to session %s.\n", args[0])
		return nil
	},
}

var sessionPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Pin or unpin a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unpin, _ := cmd.Flags().GetBool("unpin")
		err := daemonPost("/api/actions/pin", map[string]any{
			"sessionId": args[0],
			"pin":       !unpin,
		})
		if err != nil {
			return err
		}
		if unpin {
			fmt.Fprintf(os.Stdout, "Session %s unpinned.\n", args[0])
		} else {
			fmt.Fprintf(os.Stdout, "Session %s pinned.\n", args[0])
		}
		return nil
	},
}

var sessionRateCmd = &cobra.Command{
	Use:   "rate <id> <thumbs_up|thumbs_down>",
	Short: "Record a satisfaction rating for a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := daemonPost("/api/actions/rate", map[string]any{
			"sessionId": args[0],
			"rating":    args[1],
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s rated %s.\n", args[0], args[1])
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemonPost("/api/actions/close", map[string]any{"sessionId": args[0]}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s closed.\n", args[0])
		return nil
	},
}
