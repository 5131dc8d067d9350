package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviregistry/operator-ingest/internal/registry/stub"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newStubRegistryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub-registry",
		Short: "Serve an in-memory registry for local runs",
		Long: `Serve an in-memory registry that accepts logins and bulk upserts like the real
one. Records are kept in memory only. The password is taken from --password or
the OPERATOR_INGEST_STUB_PASSWORD environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			address := v.GetString("stub.address")
			email := v.GetString("stub.email")
			password := v.GetString("stub_password")
			ttl := v.GetDuration("stub.token-ttl")
			if password == "" {
				return errors.New("a password is required (--password or OPERATOR_INGEST_STUB_PASSWORD)")
			}

			tel, err := telemetry.New(cmd.Context(), nil)
			if err != nil {
				return err
			}
			httpMiddleware, err := telemetry.HTTPMiddleware(tel.TracerProvider(), tel.MeterProvider())
			if err != nil {
				return fmt.Errorf("failed to create telemetry middleware: %w", err)
			}

			reg := stub.New(
				stub.WithUser(email, password),
				stub.WithTokenTTL(ttl),
				stub.WithMiddlewares(httpMiddleware),
			)

			server := &http.Server{
				Addr:         address,
				Handler:      reg.Handler(),
				ReadTimeout:  serverReadTimeout,
				WriteTimeout: serverWriteTimeout,
				IdleTimeout:  serverIdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Stub registry listening", "address", address, "email", email, "token_ttl", ttl)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("stub registry failed: %w", err)
				}
				return nil
			case <-quit:
			}

			slog.Info("Shutting down stub registry...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("stub registry forced to shutdown: %w", err)
			}
			slog.Info("Stub registry stopped", "records", len(reg.Records()))
			return nil
		},
	}

	cmd.Flags().String("address", ":8081", "Address to listen on")
	cmd.Flags().String("email", "ingest@example.com", "Account email accepted by the stub")
	cmd.Flags().String("password", "", "Account password accepted by the stub")
	cmd.Flags().Duration("token-ttl", stub.DefaultTokenTTL, "Lifetime of issued tokens")

	for key, flag := range map[string]string{
		"stub.address":   "address",
		"stub.email":     "email",
		"stub_password":  "password",
		"stub.token-ttl": "token-ttl",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
		}
	}
	return cmd
}
