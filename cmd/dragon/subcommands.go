package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dragon-bot/dragon/internal/core"
	"github.com/dragon-bot/dragon/internal/discord"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// Run the bot
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" || cfg.Discord.ApplicationID == "" {
				return errors.New("discord token and application id are required; set DISCORD_TOKEN and DISCORD_APPLICATION_ID")
			}
			st, err := core.OpenStore(cfg)
			if err != nil {
				return err
			}
			client, err := discord.New(cfg.Discord.Token, cfg.Discord.ApplicationID)
			if err != nil {
				st.Close()
				return err
			}
			app := core.NewApp(cfg, st, client)
			defer func() {
				if err := app.Close(); err != nil {
					log.Error().Err(err).Msg("shutdown")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Monitoring.Enabled {
				ms := telemetry.NewMonitoringServer(cfg.Monitoring.Addr)
				for name, check := range telemetry.DefaultHealthChecks() {
					ms.RegisterHealthCheck(name, check)
				}
				for name, check := range app.HealthChecks() {
					ms.RegisterHealthCheck(name, check)
				}
				go func() {
					if err := ms.Start(); err != nil {
						log.Error().Err(err).Msg("monitoring server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = ms.Shutdown(shutdownCtx)
				}()
				log.Info().Str("addr", cfg.Monitoring.Addr).Msg("monitoring enabled")
			}

			log.Info().Str("storage", cfg.Storage.Driver).Str("data", cfg.DataPath).Msg("starting")
			return client.Run(ctx, app)
		},
	}
}

// List hosted modules
func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List hosted modules and their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer app.Close()
			reg := app.Registry()
			for _, id := range reg.IDs() {
				perms := make([]string, 0)
				for _, p := range reg.Permissions(id) {
					perms = append(perms, p.ID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, strings.Join(perms, ","))
			}
			return nil
		},
	}
}

func parseTenants(args []string) ([]api.Snowflake, error) {
	out := make([]api.Snowflake, 0, len(args))
	for _, a := range args {
		id, err := api.ParseSnowflake(a)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Show a server's active modules
func newActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active <server-id>",
		Short: "List the modules active on a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := api.ParseSnowflake(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer app.Close()
			active, err := app.Active(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			for _, id := range active {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

// Activate a module on a server
func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <server-id> <module>",
		Short: "Activate a module on a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := api.ParseSnowflake(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Activate(cmd.Context(), tenant, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "activated %s on %s\n", args[1], tenant)
			return nil
		},
	}
}

// Deactivate a module on a server
func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <server-id> <module>",
		Short: "Deactivate a module on a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := api.ParseSnowflake(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Deactivate(cmd.Context(), tenant, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s on %s\n", args[1], tenant)
			return nil
		},
	}
}

// Rebuild servers' remote commands
func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync <server-id>...",
		Short: "Rebuild the slash commands of one or more servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenants, err := parseTenants(args)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer app.Close()
			reports, err := app.Resync(cmd.Context(), tenants)
			if err != nil {
				return err
			}
			failed := 0
			for _, tenant := range tenants {
				rep, ok := reports[tenant]
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tskipped\n", tenant)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tdeleted=%d created=%d failures=%d\n", tenant, len(rep.Deleted), len(rep.Created), len(rep.Failures))
				for _, f := range rep.Failures {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %v\n", f.Op, f.Command, f.Err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("resync finished with %d failure(s)", failed)
			}
			return nil
		},
	}
}
