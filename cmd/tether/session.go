package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/types"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage messaging sessions",
}

var sessionProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Register a new session awaiting pairing",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		tenantID, _ := cmd.Flags().GetString("tenant")
		channel, _ := cmd.Flags().GetString("channel")
		ref, _ := cmd.Flags().GetString("gateway-ref")

		session, err := apiClient(cmd).ProvisionSession(sessions.ProvisionRequest{
			ID:         id,
			TenantID:   tenantID,
			Channel:    channel,
			GatewayRef: ref,
		})
		if err != nil {
			return fmt.Errorf("failed to provision session: %w", err)
		}
		fmt.Printf("✓ Session provisioned: %s\n", session.ID)
		printSession(session)
		return nil
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get SESSION_ID",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := apiClient(cmd).GetSession(args[0])
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		printSession(session)
		return nil
	},
}

var sessionConnectCmd = &cobra.Command{
	Use:   "connect SESSION_ID",
	Short: "Ask the gateway to connect a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient(cmd).ConnectSession(args[0])
		if err != nil {
			return fmt.Errorf("failed to connect session: %w", err)
		}
		if result.GatewayError != "" {
			fmt.Printf("⚠ Gateway error: %s\n", result.GatewayError)
		}
		if result.ReauthPayload != "" {
			fmt.Printf("Re-authentication required, pairing payload:\n%s\n", result.ReauthPayload)
		}
		printSession(result.Session)
		return nil
	},
}

var sessionDisconnectCmd = &cobra.Command{
	Use:   "disconnect SESSION_ID",
	Short: "Disconnect a session on purpose",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := apiClient(cmd).DisconnectSession(args[0])
		if err != nil {
			return fmt.Errorf("failed to disconnect session: %w", err)
		}
		fmt.Printf("✓ Session disconnected: %s\n", session.ID)
		return nil
	},
}

var sessionReauthCmd = &cobra.Command{
	Use:   "reauth-complete SESSION_ID",
	Short: "Mark a session as re-authenticated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := apiClient(cmd).CompleteReauth(args[0])
		if err != nil {
			return fmt.Errorf("failed to complete re-authentication: %w", err)
		}
		printSession(session)
		return nil
	},
}

var sessionStateCmd = &cobra.Command{
	Use:   "state SESSION_ID STATE",
	Short: "Report a state observed outside the reconciler (connected, connecting, disconnected, error)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient(cmd).ReportState(args[0], sessions.ReportedState(args[1]))
		if err != nil {
			return fmt.Errorf("failed to report state: %w", err)
		}
		if !result.Applied {
			fmt.Println("Report ignored by session policy")
		}
		printSession(result.Session)
		return nil
	},
}

var sessionEpisodesCmd = &cobra.Command{
	Use:   "episodes SESSION_ID",
	Short: "List outage episodes of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		episodes, err := apiClient(cmd).ListEpisodes(args[0])
		if err != nil {
			return fmt.Errorf("failed to list episodes: %w", err)
		}
		if len(episodes) == 0 {
			fmt.Println("No outage episodes")
			return nil
		}
		fmt.Printf("%-6s %-22s %-14s %-8s\n", "ID", "STARTED", "DURATION", "ALERTED")
		for _, ep := range episodes {
			end := time.Now()
			if ep.EndedAt != nil {
				end = *ep.EndedAt
			}
			fmt.Printf("%-6d %-22s %-14s %-8t\n",
				ep.ID,
				ep.StartedAt.Format(time.RFC3339),
				end.Sub(ep.StartedAt).Round(time.Second),
				ep.Alerted,
			)
		}
		return nil
	},
}

func init() {
	sessionProvisionCmd.Flags().String("id", "", "Session ID (generated when empty)")
	sessionProvisionCmd.Flags().String("tenant", "", "Owning tenant ID (required)")
	sessionProvisionCmd.Flags().String("channel", "whatsapp", "Channel name")
	sessionProvisionCmd.Flags().String("gateway-ref", "", "Gateway reference (defaults to the session ID)")
	_ = sessionProvisionCmd.MarkFlagRequired("tenant")

	sessionCmd.AddCommand(sessionProvisionCmd)
	sessionCmd.AddCommand(sessionGetCmd)
	sessionCmd.AddCommand(sessionConnectCmd)
	sessionCmd.AddCommand(sessionDisconnectCmd)
	sessionCmd.AddCommand(sessionReauthCmd)
	sessionCmd.AddCommand(sessionStateCmd)
	sessionCmd.AddCommand(sessionEpisodesCmd)
}

func printSession(s *types.Session) {
	if s == nil {
		return
	}
	fmt.Printf("  ID:        %s\n", s.ID)
	fmt.Printf("  Tenant:    %s\n", s.TenantID)
	fmt.Printf("  Channel:   %s\n", s.Channel)
	fmt.Printf("  Status:    %s\n", s.Status)
	if s.DisconnectedSince != nil {
		fmt.Printf("  Down since: %s\n", humanize.Time(*s.DisconnectedSince))
	}
	fmt.Printf("  Attempts:  %d\n", s.ReconnectAttemptsCount)
	if s.LastReconnectAttemptAt != nil {
		fmt.Printf("  Last try:  %s\n", humanize.Time(*s.LastReconnectAttemptAt))
	}
	if s.ManualDisconnect {
		fmt.Println("  Manually disconnected")
	}
	if s.AwaitingReauth {
		fmt.Println("  Awaiting re-authentication")
	}
	if s.AlertSentForCurrentDisconnect {
		fmt.Println("  Alert sent for current outage")
	}
}
