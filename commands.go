package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"agentdesk/internal/api"
	"agentdesk/internal/auth"
	"agentdesk/internal/credentials"
	"agentdesk/internal/reports"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			retention := time.Duration(a.cfg.Pipeline.DedupeTTLMinutes) * time.Minute
			scheduler, err := reports.NewScheduler(a.reports, a.cfg.Reports.Schedule, a.sqlEvents, retention, a.logger)
			if err != nil {
				return fmt.Errorf("schedule reports: %w", err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			gin.SetMode(gin.ReleaseMode)
			handler := api.NewHandler(api.Deps{
				Pipeline:      a.pipeline,
				Agents:        a.agents,
				Conversations: a.conversations,
				Usage:         a.usage,
				Reports:       a.reports,
				Credentials:   a.accessor,
				Authorizer:    auth.NewAuthorizer(a.db, a.cfg.Auth.JWTSecret),
				Diagnostics:   a.ring,
				CronSecret:    a.cfg.Auth.CronSecret,
				RateLimit:     a.cfg.Pipeline.RateLimitPerSecond,
				RateBurst:     a.cfg.Pipeline.RateLimitBurst,
				Logger:        a.logger,
			})
			srv := &http.Server{
				Addr:              a.cfg.BasicConfig.ServerAddress,
				Handler:           api.NewRouter(handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server stopped: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			cfg, log, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Info("schema up to date")
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	var baseURL, apiKey string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt gateway credentials for a connection row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := loadConfig()
			if err != nil {
				return err
			}
			cipher, err := credentials.NewCipher(cfg.BasicConfig.EncryptionKey)
			if err != nil {
				return err
			}
			blob, err := credentials.NewAccessor(cipher).Seal(baseURL, apiKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), blob)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "gateway base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "gateway API key")
	_ = cmd.MarkFlagRequired("base-url")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

func reportCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate daily reports once (previous UTC day by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var summary reports.Summary
			if date == "" {
				summary, err = a.reports.GenerateYesterday(cmd.Context())
			} else {
				day, perr := time.Parse("2006-01-02", date)
				if perr != nil {
					return fmt.Errorf("invalid --date: %w", perr)
				}
				summary, err = a.reports.Generate(cmd.Context(), day)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "report date YYYY-MM-DD")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, exp, err := auth.IssueToken(cfg.Auth.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&role, "role", "", "user_metadata.role, e.g. super_admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
