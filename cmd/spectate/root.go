package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/firebase"
	"github.com/parley-chat/backend/internal/session"
)

// refreshEvery matches the cadence at which ID tokens are renewed well
// before their one hour lifetime ends.
const refreshEvery = 5 * time.Minute

var (
	serverURL   string
	token       string
	apiKey      string
	profilePath string
)

// rootCmd is the read-only spectator client
var rootCmd = &cobra.Command{
	Use:   "spectate",
	Short: "Watch Parley chat rooms with a spectator token",
	Long: `spectate activates a read-only spectator session from a capability
token and lists or streams the rooms the token grants.`,
	SilenceUsage: true,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms the token grants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := activate(cmd.Context())
		if err != nil {
			return err
		}

		claims := mgr.Spectator().Claims()
		fmt.Printf("Spectator %s, access until %s\n", claims.UID, claims.Expiry().Local().Format(time.RFC1123))
		for _, room := range capability.AllowedRooms(claims) {
			fmt.Println(room)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [room-id]",
	Short: "Stream a room's messages until access ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		mgr, err := activate(ctx)
		if err != nil {
			return err
		}
		mgr.OnTransition(func(track session.Track, state session.State) {
			if track == session.TrackSpectator && state == session.SignedOut {
				log.Println("[Spectate] Spectator access ended")
				cancel()
			}
		})

		if err := mgr.CanRead(roomID); err != nil {
			return fmt.Errorf("cannot watch %s: %w", roomID, err)
		}

		go mgr.Run(ctx, refreshEvery)

		err = watch(ctx, serverURL, roomID, mgr.SpectatorToken(), printMessage)
		if errors.Is(err, errAccessEnded) || ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:4000", "Parley backend URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "spectator capability token (required)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Firebase Web API key; when set the token is exchanged with Firebase Authentication")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "file to persist the spectator profile in")
	rootCmd.MarkPersistentFlagRequired("token")

	rootCmd.AddCommand(roomsCmd, watchCmd)
}

// activate builds a session manager with only the spectator track and
// presents the token.
func activate(ctx context.Context) (*session.Manager, error) {
	var provider session.SpectatorProvider
	if apiKey != "" {
		provider = firebase.NewAuthClient(apiKey)
	} else {
		provider = session.NewLocalSpectatorProvider(newRemoteVerifier(serverURL, &http.Client{Timeout: 10 * time.Second}))
	}

	var profiles session.ProfileStore
	if profilePath != "" {
		profiles = session.NewFileProfileStore(profilePath)
	}

	mgr := session.NewManager(nil, provider, profiles)
	if err := mgr.ActivateSpectator(ctx, strings.TrimSpace(token)); err != nil {
		return nil, fmt.Errorf("activating spectator: %w", err)
	}
	return mgr, nil
}
