// Command irohad runs one iroha-peer node: it loads configuration, loads or
// generates this peer's signing identity, wires every component via
// internal/peer.New, and runs until an OS signal requests shutdown.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/peer"
	"iroha-peer/pkg/config"
	"iroha-peer/pkg/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    string
		submitGenesis bool
		trustedPeers  []string
		terminalColor bool
		keyFile       string
		genesisKey    string
		genesisWasm   string
	)

	root := &cobra.Command{
		Use:   "irohad",
		Short: "run an iroha-peer consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetFormatter(&logrus.TextFormatter{DisableColors: !terminalColor})

			cfg, err := config.Load(configPath)
			if err != nil {
				logger.WithError(err).Error("irohad: load config")
				return err
			}
			if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
				logger.SetLevel(lvl)
			}

			self, err := loadOrCreateIdentity(keyFile)
			if err != nil {
				logger.WithError(err).Error("irohad: load identity")
				return err
			}

			trusted, err := parseTrustedPeers(trustedPeers)
			if err != nil {
				logger.WithError(err).Error("irohad: parse --trusted-peers")
				return err
			}

			var genesisKP *datamodel.KeyPair
			var executorWasm []byte
			if submitGenesis {
				kp, err := loadGenesisKey(genesisKey, self)
				if err != nil {
					logger.WithError(err).Error("irohad: load genesis key")
					return err
				}
				genesisKP = &kp
				if genesisWasm != "" {
					executorWasm, err = os.ReadFile(genesisWasm)
					if err != nil {
						logger.WithError(err).Error("irohad: read genesis executor module")
						return err
					}
				}
			}

			sup, err := peer.New(peer.Options{
				Config:         cfg,
				Self:           self,
				TrustedPeers:   trusted,
				SubmitGenesis:  submitGenesis,
				GenesisKeyPair: genesisKP,
				GenesisExecutorWasm: executorWasm,
				Logger:         logger,
			})
			if err != nil {
				logger.WithError(err).Error("irohad: construct peer")
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger.WithField("public_key", self.Public.String()).Info("irohad: starting")
			if err := sup.Run(ctx); err != nil {
				logger.WithError(err).Error("irohad: run")
				return err
			}
			logger.Info("irohad: shut down cleanly")
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", utils.EnvOrDefault("IROHA_CONFIG", ""), "path to the peer's YAML config file")
	root.Flags().BoolVar(&submitGenesis, "submit-genesis", false, "author and submit the height-1 genesis block")
	root.Flags().StringSliceVar(&trustedPeers, "trusted-peers", nil, "trusted peer entries of the form algorithm:hexkey@address")
	root.Flags().BoolVar(&terminalColor, "terminal-colors", false, "enable ANSI colors in log output")
	root.Flags().StringVar(&keyFile, "key-file", utils.EnvOrDefault("IROHA_KEY_FILE", ""), "path to this peer's own key file (generated on first run if absent)")
	root.Flags().StringVar(&genesisKey, "genesis-key-file", "", "path to the genesis authoring key (defaults to --key-file)")
	root.Flags().StringVar(&genesisWasm, "genesis-executor", "", "path to the initial executor WASM module genesis installs")

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// parseTrustedPeers turns "algorithm:hexkey@address" flag values into
// peer.TrustedPeer entries. An entry with no "@address" suffix names a peer
// whose address is learned later via discovery.
func parseTrustedPeers(raw []string) ([]peer.TrustedPeer, error) {
	out := make([]peer.TrustedPeer, 0, len(raw))
	for _, entry := range raw {
		keyPart, addr, _ := strings.Cut(entry, "@")
		id, err := datamodel.ParsePublicKey(keyPart)
		if err != nil {
			return nil, fmt.Errorf("irohad: trusted peer %q: %w", entry, err)
		}
		out = append(out, peer.TrustedPeer{Id: id, Address: addr})
	}
	return out, nil
}

// loadOrCreateIdentity loads this peer's identity from path. An empty path
// yields a fresh ephemeral ed25519 key; a missing file gets a fresh ed25519
// key written to it. The file is one line "algorithm:hexpublic" and a
// second line "hexprivate". Deliberately plain
// text (not PEM): this is only the minimal loader irohad itself needs to
// start, not a keystore.
func loadOrCreateIdentity(path string) (datamodel.KeyPair, error) {
	if path == "" {
		return datamodel.GenerateKeyPair("ed25519")
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		kp, genErr := datamodel.GenerateKeyPair("ed25519")
		if genErr != nil {
			return datamodel.KeyPair{}, genErr
		}
		if writeErr := writeKeyFile(path, kp); writeErr != nil {
			return datamodel.KeyPair{}, writeErr
		}
		return kp, nil
	}
	if err != nil {
		return datamodel.KeyPair{}, fmt.Errorf("irohad: read key file %s: %w", path, err)
	}
	return parseKeyFile(data)
}

func loadGenesisKey(path string, self datamodel.KeyPair) (datamodel.KeyPair, error) {
	if path == "" {
		return self, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return datamodel.KeyPair{}, fmt.Errorf("irohad: read genesis key file %s: %w", path, err)
	}
	return parseKeyFile(data)
}

func parseKeyFile(data []byte) (datamodel.KeyPair, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return datamodel.KeyPair{}, fmt.Errorf("irohad: malformed key file, want 2 lines, got %d", len(lines))
	}
	priv, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return datamodel.KeyPair{}, fmt.Errorf("irohad: decode private key: %w", err)
	}
	return datamodel.ParseKeyPair(strings.TrimSpace(lines[0]), priv)
}

func writeKeyFile(path string, kp datamodel.KeyPair) error {
	contents := kp.Public.String() + "\n" + hex.EncodeToString(kp.Private) + "\n"
	return os.WriteFile(path, []byte(contents), 0o600)
}
