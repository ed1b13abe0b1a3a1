package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MIK-RC/aws-aiops/internal/app"
	"github.com/MIK-RC/aws-aiops/internal/mcpserver"
	"github.com/MIK-RC/aws-aiops/internal/security"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the capabilities and whether their integrations are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				roster, err := a.Service.Manager().NewRoster()
				if err != nil {
					return err
				}
				return printRoster(os.Stdout, roster)
			})
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				runs, err := a.Runs.List(ctx, limit)
				if err != nil {
					return err
				}
				return printRuns(os.Stdout, runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func serveMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Expose the capability operations to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				s, err := mcpserver.NewFromService(a.Config.MCP, a.Service)
				if err != nil {
					return err
				}
				return s.ServeStdio()
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject        string
		scopes         []string
		expiry         time.Duration
		generateSecret bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generateSecret {
				secret, err := security.GenerateRandomString(32)
				if err != nil {
					return err
				}
				fmt.Println(secret)
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if expiry == 0 {
				expiry = cfg.Security.TokenExpiry
			}
			tokens, err := security.NewTokenService(cfg.Security.JWTSecret, expiry)
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(subject, scopes...)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(os.Stdout, map[string]interface{}{
					"token":      token,
					"subject":    subject,
					"expires_at": expiresAt,
				})
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scopes (defaults to invoke and read)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (defaults to JWT_TOKEN_EXPIRY)")
	cmd.Flags().BoolVar(&generateSecret, "generate-secret", false, "print a random JWT_SECRET and exit")
	return cmd
}
