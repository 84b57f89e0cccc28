package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"geoattend/internal/auth"
	"geoattend/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token",
	Long: `Mint an access token signed with JWT_SIGNING_KEY and valid for ACCESS_TTL.
The subject is recorded as the acting user on punches.

Examples:
  # Token for a supervisor allowed to record manual punches
  token --sub sup-1 --role supervisor`,
	RunE: runToken,
}

func init() {
	rootCmd.Flags().String("sub", "", "User id recorded as the acting user on punches")
	rootCmd.Flags().String("role", auth.RoleEmployee, "Role: admin, supervisor or employee")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runToken(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("sub")
	role, _ := cmd.Flags().GetString("role")

	tok, err := mint(config.Load(), subject, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func mint(cfg config.App, subject, role string) (auth.Token, error) {
	if subject == "" {
		return auth.Token{}, fmt.Errorf("--sub is required")
	}
	switch role {
	case auth.RoleAdmin, auth.RoleSupervisor, auth.RoleEmployee:
	default:
		return auth.Token{}, fmt.Errorf("unknown role %q", role)
	}
	return auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
}
