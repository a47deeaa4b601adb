package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/easeaico/eva-client/internal/call"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Open the call channel",
	Long: `Connects to the call endpoint and prints incoming messages.

Type "mute" to toggle the microphone state and "end" to hang up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			url = cfg.Call.URL
		}
		if url == "" {
			return fmt.Errorf("no call url configured (set call.url or EVA_CALL_URL)")
		}

		am := newAuthManager(cfg, logger)
		mgr := call.NewManager(url, call.WithToken(am.Token), call.WithLogger(logger.Named("call")))

		out := cmd.OutOrStdout()
		ended := make(chan struct{}, 1)
		mgr.OnStatus(func(s string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "-- %s\n", s)
			if strings.HasPrefix(s, "Closed:") || strings.HasPrefix(s, "Failed:") {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		})
		mgr.OnMessage(func(msg string) {
			fmt.Fprintln(out, msg)
		})

		if err := mgr.Connect(ctx); err != nil {
			return err
		}
		session := call.NewSession(mgr)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- strings.TrimSpace(scanner.Text())
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return session.End()
			case <-ended:
				return mgr.Disconnect()
			case line, ok := <-lines:
				if !ok {
					return session.End()
				}
				switch line {
				case "":
				case "mute", "unmute":
					muted, err := session.ToggleMute()
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "-- %v\n", err)
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "-- muted: %t\n", muted)
				case "end", "quit":
					return session.End()
				default:
					fmt.Fprintf(cmd.ErrOrStderr(), "-- unknown command %q\n", line)
				}
			}
		}
	},
}

func init() {
	callCmd.Flags().String("url", "", "Call endpoint (overrides config)")
}
