package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackenstacks/ai-nexus/internal/config"
	"github.com/hackenstacks/ai-nexus/pkg/storage"
	"github.com/hackenstacks/ai-nexus/pkg/vault"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Inspect or reset the encrypted vault",
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault initialization state",
	RunE:  runVaultStatus,
}

var vaultResetForce bool

var vaultResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all vault data",
	Long: `Delete the vault salt, verifier, and encrypted blob. All characters,
chats, and plugins are lost. This cannot be undone.`,
	RunE: runVaultReset,
}

func init() {
	vaultResetCmd.Flags().BoolVar(&vaultResetForce, "force", false, "skip confirmation")
	vaultCmd.AddCommand(vaultStatusCmd)
	vaultCmd.AddCommand(vaultResetCmd)
	rootCmd.AddCommand(vaultCmd)
}

// openVault opens the vault against the on-disk store. The daemon must
// not be running; sqlite holds an exclusive lock.
func openVault() (*vault.Vault, *storage.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "nexus.db"), zerolog.Nop())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	v, err := vault.New(store, vault.Config{Iterations: cfg.Vault.PBKDF2Iterations, Logger: zerolog.Nop()})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return v, store, nil
}

func runVaultStatus(cmd *cobra.Command, args []string) error {
	v, store, err := openVault()
	if err != nil {
		return err
	}
	defer store.Close()

	initialized, err := v.Initialized()
	if err != nil {
		return err
	}
	hasLegacy, err := v.HasLegacyData()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized: %t\n", initialized)
	fmt.Fprintf(cmd.OutOrStdout(), "Legacy data present: %t\n", hasLegacy)
	return nil
}

func runVaultReset(cmd *cobra.Command, args []string) error {
	if !vaultResetForce {
		return fmt.Errorf("refusing to reset without --force; all vault data will be lost")
	}

	v, store, err := openVault()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := v.Clear(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Vault reset")
	return nil
}
