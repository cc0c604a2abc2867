// Package main (cmd/vault-session) acquires an authenticated Vault session
// the way a peer does and reports on it.
//
// Without --controller-url the local configuration is used. With it,
// configuration and credentials are requested from the controller, signed
// with --signing-key. --impersonate requests credentials for --peer-id with
// the controller's own key.
//
// Commands:
//
//	token   print metadata of the session token as JSON
//	read    read a Vault path with the session and print the response
//	purge   clear cached sessions and credentials
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/ruteri/vault-session-broker/cmd/flags"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/cryptoutils"
	"github.com/ruteri/vault-session-broker/factory"
	"github.com/ruteri/vault-session-broker/peer"
	"github.com/ruteri/vault-session-broker/vaultclient"
	"github.com/urfave/cli/v2"
)

var flagControllerURL = &cli.StringFlag{
	Name:    "controller-url",
	EnvVars: []string{"VAULT_BROKER_CONTROLLER"},
	Usage:   "controller to request configuration and credentials from",
}

var flagPeerID = &cli.StringFlag{
	Name:    "peer-id",
	EnvVars: []string{"VAULT_BROKER_PEER_ID"},
	Usage:   "identifier of this peer",
}

var flagImpersonate = &cli.BoolFlag{
	Name:  "impersonate",
	Usage: "sign with the controller key on behalf of --peer-id",
}

var flagForceLocal = &cli.BoolFlag{
	Name:  "force-local",
	Usage: "use the local configuration even when a controller is set",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "timeout for controller and Vault requests",
}

var flagShowToken = &cli.BoolFlag{
	Name:  "show-token",
	Usage: "include the token itself in the output",
}

func main() {
	flags.LoadEnvFile()

	app := &cli.App{
		Name:           "vault-session",
		Usage:          "Acquire and inspect brokered Vault sessions",
		DefaultCommand: "token",
		Flags: append([]cli.Flag{
			flags.ConfigFlag,
			flagControllerURL,
			flagPeerID,
			flags.SigningKeyFlag,
			flagImpersonate,
			flagForceLocal,
			flagTimeout,
			flags.LogServiceFlagFn("vault-session"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "print session token metadata",
				Flags: []cli.Flag{flagShowToken},
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(ctx context.Context, sessions *factory.Factory, log *slog.Logger) error {
						client, cfg, err := sessions.Acquire(ctx, cCtx.Bool(flagForceLocal.Name))
						if err != nil {
							return err
						}
						// AppRole sessions log in lazily
						if _, err := client.Auth().Token(ctx); err != nil {
							return err
						}

						token := client.Auth().CurrentToken()
						if token == nil {
							return errors.New("session carries no token")
						}
						out := map[string]any{
							"accessor":    token.Accessor,
							"policies":    token.Policies,
							"renewable":   token.Renewable,
							"num_uses":    token.NumUses,
							"ttl":         int64(token.RemainingTTL() / time.Second),
							"expire_time": token.ExpireTime().UTC().Format(time.RFC3339),
							"method":      cfg.Auth.Method,
							"server":      cfg.Server.URL,
						}
						if cCtx.Bool(flagShowToken.Name) {
							out["token"] = token.ID
						}
						return printJSON(out)
					})
				},
			},
			{
				Name:      "read",
				Usage:     "read a Vault path with the session",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					path := cCtx.Args().First()
					if path == "" {
						return errors.New("path is required")
					}
					return withSession(cCtx, func(ctx context.Context, sessions *factory.Factory, log *slog.Logger) error {
						client, _, err := sessions.Acquire(ctx, cCtx.Bool(flagForceLocal.Name))
						if err != nil {
							return err
						}
						resp, err := client.Read(ctx, path)
						if err != nil {
							return err
						}
						if resp == nil {
							return fmt.Errorf("%s not found", path)
						}
						return printJSON(resp)
					})
				},
			},
			{
				Name:  "purge",
				Usage: "clear cached sessions and credentials",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(ctx context.Context, sessions *factory.Factory, log *slog.Logger) error {
						forceLocal := cCtx.Bool(flagForceLocal.Name)
						if err := sessions.ClearCache(ctx, forceLocal); err != nil {
							return err
						}
						log.Info("Purged cached sessions", "bank", sessions.Bank(forceLocal).String())
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withSession builds the session factory described by the flags and runs fn.
func withSession(cCtx *cli.Context, fn func(ctx context.Context, sessions *factory.Factory, log *slog.Logger) error) error {
	// stdout carries command output
	logger := flags.SetupLogger(cCtx, os.Stderr)

	raw, err := config.LoadFile(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		return err
	}

	timeout := cCtx.Duration(flagTimeout.Name)
	opts := factory.Options{
		Local:     raw,
		RunType:   factory.RunLocal,
		NewClient: vaultclient.Builder(logger),
		Log:       logger,
	}

	if controllerURL := cCtx.String(flagControllerURL.Name); controllerURL != "" {
		peerID := cCtx.String(flagPeerID.Name)
		if peerID == "" {
			return errors.New("peer-id is required with a controller")
		}
		if cCtx.String(flags.SigningKeyFlag.Name) == "" {
			return errors.New("signing-key is required with a controller")
		}
		signer, err := cryptoutils.NewSignerFromHex(peerID, cCtx.String(flags.SigningKeyFlag.Name))
		if err != nil {
			return err
		}

		impersonate := cCtx.Bool(flagImpersonate.Name)
		opts.RunType = factory.RunRemote
		if impersonate {
			opts.RunType = factory.RunImpersonating
			opts.PeerID = peerID
		}
		opts.Peer = peer.NewProtocol(peer.ProtocolConfig{
			Transport:    peer.NewHTTPTransport(controllerURL, timeout, logger),
			Signer:       signer,
			Impersonated: impersonate,
			Local:        raw,
			NewClient:    opts.NewClient,
			Log:          logger,
		})
	}

	sessions, err := factory.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, sessions, logger)
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
