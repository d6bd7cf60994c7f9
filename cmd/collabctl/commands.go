package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/go-collab-client/collab"
	"github.com/jrsteele09/go-collab-client/collabmodel"
	"github.com/jrsteele09/go-collab-client/credentials"
	"github.com/jrsteele09/go-collab-client/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const leaveTimeout = 10 * time.Second

func newLoginCmd(c config.Config) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the credential pair (password is read from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			pair, err := rt.auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := rt.authority.Login(pair); err != nil {
				return err
			}

			expires, _ := credentials.ExpiresAt(pair.AccessToken)
			log.Info().Str("email", email).Time("expires_at", expires).Msg("Logged in")
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func newLogoutCmd(c config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.authority.Logout(); err != nil {
				return err
			}
			log.Info().Msg("Logged out")
			return nil
		},
	}
}

func newJoinCmd(c config.Config) *cobra.Command {
	var end bool
	cmd := &cobra.Command{
		Use:   "join <Document|Snippet|Diagram> <resource-id>",
		Short: "Join the collaboration session of a resource and print presence until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, err := parseResourceType(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			self, err := credentials.Subject(rt.authority.AccessToken())
			if err != nil {
				log.Debug().Err(err).Msg("Access token has no readable subject")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			rt.authority.OnTerminated(func(error) { cancel() })

			coordinator := rt.newCoordinator(c, collab.WithCommentsChanged(func(sessionID string) {
				fmt.Fprintf(cmd.OutOrStdout(), "comments changed in %s\n", sessionID)
			}))
			unsubscribe := coordinator.Projection().Subscribe(func(s collab.Snapshot) {
				printSnapshot(cmd.OutOrStdout(), s, self)
			})
			defer unsubscribe()

			session, err := coordinator.Start(ctx, args[1], resourceType)
			if err != nil {
				return err
			}
			log.Info().Str("session_id", session.SessionID).Msg("Joined, press Ctrl+C to leave")

			<-ctx.Done()

			closeCtx, closeCancel := context.WithTimeout(context.Background(), leaveTimeout)
			defer closeCancel()
			if end {
				return coordinator.End(closeCtx)
			}
			return coordinator.Leave(closeCtx)
		},
	}
	cmd.Flags().BoolVar(&end, "end", false, "end the session for everyone on exit instead of leaving")
	return cmd
}

func parseResourceType(s string) (collabmodel.ResourceType, error) {
	for _, rt := range []collabmodel.ResourceType{collabmodel.ResourceDocument, collabmodel.ResourceSnippet, collabmodel.ResourceDiagram} {
		if strings.EqualFold(s, string(rt)) {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	return password, nil
}

func printSnapshot(out io.Writer, s collab.Snapshot, self string) {
	if s.Session == nil {
		fmt.Fprintln(out, "-- no session")
		return
	}
	fmt.Fprintf(out, "-- %s %s [%s, %s]\n", s.Session.ResourceType, s.Session.SessionID, s.Status, s.Connection)

	typing := make(map[string]bool, len(s.Typing))
	for _, userID := range s.Typing {
		typing[userID] = true
	}

	for _, p := range s.Participants {
		name := p.DisplayName
		if p.UserID == self {
			name += " (you)"
		}
		line := fmt.Sprintf("   %-24s %-7s", name, p.Role)
		if cursor, ok := s.Cursors[p.UserID]; ok {
			line += fmt.Sprintf(" %d:%d", cursor.Position.Line, cursor.Position.Column)
		}
		if typing[p.UserID] {
			line += " typing..."
		}
		fmt.Fprintln(out, line)
	}
}
