package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/token"
	"trustfund/internal/util"
)

// KeygenCmd 生成 ed25519 钱包密钥，私钥以 base58 保存
func KeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 wallet key",
		Long: `Generate an ed25519 wallet key.

Examples:
  # Print the address and write the private key to a file
  trustctl keygen --out client.key
`,
		RunE: runKeygen,
	}
	cmd.Flags().String("out", "", "File to write the base58 private key to (prints it when empty)")
	return cmd
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	addr, err := address.FromPublicKey(pub)
	if err != nil {
		return err
	}

	result := map[string]any{"address": addr.String()}
	encoded := base58.Encode(priv)
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := os.WriteFile(out, []byte(encoded+"\n"), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		result["key_file"] = out
	} else {
		result["private_key"] = encoded
	}
	return printResult(cmd, result)
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	decoded, err := base58.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file holds %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}

// DeriveCmd 离线计算程序派生地址，与服务端的推导结果一致
func DeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive escrow addresses offline",
	}
	cmd.PersistentFlags().String("program", escrow.DefaultProgramID.String(), "Escrow program id")

	project := &cobra.Command{
		Use:   "project <owner>",
		Short: "Project address of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return derive(cmd, func() ([][]byte, error) {
				owner, err := address.Parse(args[0])
				if err != nil {
					return nil, err
				}
				return address.ProjectSeeds(owner), nil
			})
		},
	}

	vault := &cobra.Command{
		Use:   "vault <project>",
		Short: "Vault token account and vault authority of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeriveVault,
	}

	milestone := &cobra.Command{
		Use:   "milestone <project> <id>",
		Short: "Milestone address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return derive(cmd, func() ([][]byte, error) {
				project, err := address.Parse(args[0])
				if err != nil {
					return nil, err
				}
				var id uint8
				if _, err := fmt.Sscan(args[1], &id); err != nil {
					return nil, fmt.Errorf("milestone id must be 0-255: %w", err)
				}
				return address.MilestoneSeeds(project, id), nil
			})
		},
	}

	account := &cobra.Command{
		Use:   "token-account <owner> <mint>",
		Short: "Canonical token account of an owner for a mint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			mint, err := address.Parse(args[1])
			if err != nil {
				return err
			}
			addr, err := token.AccountAddress(owner, mint)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]any{"address": addr.String()})
		},
	}

	cmd.AddCommand(project, vault, milestone, account)
	return cmd
}

func programFlag(cmd *cobra.Command) (address.Address, error) {
	s, _ := cmd.Flags().GetString("program")
	program, err := address.Parse(s)
	if err != nil {
		return address.Zero, fmt.Errorf("--program: %w", err)
	}
	return program, nil
}

func derive(cmd *cobra.Command, seeds func() ([][]byte, error)) error {
	program, err := programFlag(cmd)
	if err != nil {
		return err
	}
	s, err := seeds()
	if err != nil {
		return err
	}
	addr, bump, err := address.FindProgramAddress(s, program)
	if err != nil {
		return err
	}
	return printResult(cmd, map[string]any{"address": addr.String(), "bump": bump})
}

func runDeriveVault(cmd *cobra.Command, args []string) error {
	program, err := programFlag(cmd)
	if err != nil {
		return err
	}
	project, err := address.Parse(args[0])
	if err != nil {
		return err
	}
	vault, vaultBump, err := address.FindProgramAddress(address.VaultTokenSeeds(project), program)
	if err != nil {
		return err
	}
	authority, authBump, err := address.FindProgramAddress(address.VaultAuthoritySeeds(project), program)
	if err != nil {
		return err
	}
	return printResult(cmd, map[string]any{
		"vault":           vault.String(),
		"vault_bump":      vaultBump,
		"vault_authority": authority.String(),
		"authority_bump":  authBump,
	})
}

// HashPasswordCmd 生成 admin.password_hash 配置项所需的 bcrypt 哈希
func HashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := util.HashPassword(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
