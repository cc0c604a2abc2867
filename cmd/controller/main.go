// Package main (cmd/controller) runs the trusted controller issuing Vault
// credentials to peers.
//
// The controller authenticates to Vault with its own local configuration and
// serves the peer protocol on /api/vault/{operation}. Peers are identified by
// the addresses listed in the peer registry file; requests the controller
// makes on a peer's behalf are signed with --signing-key.
//
// Example usage:
//
//	controller --config /etc/vault-broker/controller.yaml \
//	    --peers /etc/vault-broker/peers.yaml \
//	    --signing-key $CONTROLLER_KEY
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/vault-session-broker/cmd/flags"
	"github.com/ruteri/vault-session-broker/common"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/controller"
	"github.com/ruteri/vault-session-broker/cryptoutils"
	"github.com/ruteri/vault-session-broker/factory"
	"github.com/ruteri/vault-session-broker/httpserver"
	"github.com/ruteri/vault-session-broker/metrics"
	"github.com/ruteri/vault-session-broker/vaultclient"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var flagPeers = &cli.StringFlag{
	Name:     "peers",
	Required: true,
	EnvVars:  []string{"VAULT_BROKER_PEERS"},
	Usage:    "YAML file mapping peer ids to signer addresses",
}

var flagStartupTimeout = &cli.DurationFlag{
	Name:  "startup-timeout",
	Value: 30 * time.Second,
	Usage: "time allowed for the initial Vault authentication",
}

func main() {
	flags.LoadEnvFile()

	app := &cli.App{
		Name:  "controller",
		Usage: "Issue Vault credentials to trusted peers",
		Flags: append(append([]cli.Flag{
			flagListenAddr,
			flags.ConfigFlag,
			flagPeers,
			flags.SigningKeyFlag,
			flagStartupTimeout,
			flags.LogServiceFlagFn("vault-controller"),
		}, flags.LogFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx, os.Stdout)

			raw, err := config.LoadFile(cCtx.String(flags.ConfigFlag.Name))
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}

			registry, err := controller.LoadPeerRegistry(cCtx.String(flagPeers.Name))
			if err != nil {
				logger.Error("Failed to load peer registry", "err", err)
				return err
			}

			if cCtx.String(flags.SigningKeyFlag.Name) == "" {
				return errors.New("signing-key is required")
			}
			signer, err := cryptoutils.NewSignerFromHex("controller", cCtx.String(flags.SigningKeyFlag.Name))
			if err != nil {
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				return err
			}

			sessions, err := factory.New(factory.Options{
				Local:     raw,
				RunType:   factory.RunLocal,
				NewClient: vaultclient.Builder(logger),
				Metrics:   metricsSrv.Metrics,
				Log:       logger,
			})
			if err != nil {
				logger.Error("Failed to create session factory", "err", err)
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cCtx.Duration(flagStartupTimeout.Name))
			defer cancel()
			_, cfg, err := sessions.Acquire(ctx, true)
			if err != nil {
				logger.Error("Failed to authenticate to Vault", "err", err)
				return err
			}
			logger.Info("Authenticated to Vault", "url", cfg.Server.URL, "issue", cfg.Issue.Type)

			issuer := controller.NewVaultIssuer(func(ctx context.Context) (*vaultclient.AuthenticatedClient, error) {
				client, _, err := sessions.Acquire(ctx, true)
				return client, err
			}, logger)
			ctrl := controller.New(cfg, issuer, metricsSrv.Metrics, logger)
			verifier := &controller.Verifier{Registry: registry, Controller: signer.Address()}

			srvCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server, err := httpserver.New(srvCfg, metricsSrv, controller.NewHandler(ctrl, verifier, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
