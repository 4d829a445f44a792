package main

import (
	"fmt"
	"os"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the Ed25519 signing key used to attest completed jobs",
		Long: "keygen writes a new Ed25519 private key to signing_key_path and prints its " +
			"public key fingerprint, which hosts pin to accept this worker's attestations. " +
			"Run once per worker before serving any rpc requests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing signing key")
	return cmd
}

func runKeygen(cmd *cobra.Command, force bool) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(cfg.SigningKeyPath); err == nil {
			return fmt.Errorf("signing key already exists at %s (use --force to overwrite)", cfg.SigningKeyPath)
		}
	}

	pub, priv, err := artifact.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	if err := writeFileAtomic(cfg.SigningKeyPath, priv, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}

	fingerprint, err := artifact.KeyFingerprint(pub)
	if err != nil {
		return fmt.Errorf("compute key fingerprint: %w", err)
	}

	log.Info("generated worker signing key", "path", cfg.SigningKeyPath, "fingerprint", fingerprint)
	fmt.Println(fingerprint)
	return nil
}
