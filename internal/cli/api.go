package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"trustfund/internal/address"
	"trustfund/pkg/trace"
)

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return trace.WithContext(ctx, trace.GenerateTraceID())
}

// LoginCmd 用钱包密钥完成 challenge/签名登录，或以管理员身份登录
func LoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a bearer token",
		Long: `Obtain a bearer token.

Examples:
  # Wallet login: sign the server challenge with the key file
  export TRUSTCTL_TOKEN=$(trustctl login --key client.key)

  # Admin login (password from TRUSTCTL_ADMIN_PASSWORD)
  trustctl login --admin --username admin
`,
		RunE: runLogin,
	}
	cmd.Flags().String("key", "", "Wallet key file written by keygen")
	cmd.Flags().Bool("admin", false, "Log in as administrator")
	cmd.Flags().String("username", "admin", "Administrator username")
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	client := clientFromFlags(cmd)

	var token string
	if admin, _ := cmd.Flags().GetBool("admin"); admin {
		username, _ := cmd.Flags().GetString("username")
		password := os.Getenv("TRUSTCTL_ADMIN_PASSWORD")
		if password == "" {
			return fmt.Errorf("TRUSTCTL_ADMIN_PASSWORD is not set")
		}
		var resp struct {
			Token string `json:"token"`
		}
		if err := client.Do(ctx, http.MethodPost, "/admin/login", map[string]string{
			"username": username,
			"password": password,
		}, &resp); err != nil {
			return err
		}
		token = resp.Token
	} else {
		keyFile, _ := cmd.Flags().GetString("key")
		if keyFile == "" {
			return fmt.Errorf("--key is required for wallet login")
		}
		key, err := loadKey(keyFile)
		if err != nil {
			return err
		}
		if token, err = WalletLogin(ctx, client, key); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

// WalletLogin 请求 challenge，签名后换取 token
func WalletLogin(ctx context.Context, client *Client, key ed25519.PrivateKey) (string, error) {
	signer, err := address.FromPublicKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	var challenge struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	if err := client.Do(ctx, http.MethodPost, "/auth/challenge", map[string]string{
		"public_key": signer.String(),
	}, &challenge); err != nil {
		return "", fmt.Errorf("challenge: %w", err)
	}

	sig := ed25519.Sign(key, []byte(challenge.Message))
	var resp struct {
		Token string `json:"token"`
	}
	if err := client.Do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"public_key": signer.String(),
		"signature":  base58.Encode(sig),
	}, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

// ProjectCmd 托管项目相关的 API 调用
func ProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage escrow projects",
	}
	cmd.PersistentFlags().String("idempotency-key", "", "Idempotency-Key header for write requests")

	create := &cobra.Command{
		Use:   "create",
		Short: "Initialize the caller's project and vault",
		Long: `Initialize the caller's project and vault.

Examples:
  trustctl project create --mint <mint> --project-id job-1
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mint, _ := cmd.Flags().GetString("mint")
			projectID, _ := cmd.Flags().GetString("project-id")
			return call(cmd, http.MethodPost, "/projects", map[string]string{
				"mint":       mint,
				"project_id": projectID,
			})
		},
	}
	create.Flags().String("mint", "", "Mint the vault holds (required)")
	create.Flags().String("project-id", "", "Free-form project id, at most 32 bytes")
	_ = create.MarkFlagRequired("mint")

	show := &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/projects/"+url.PathEscape(args[0]), nil)
		},
	}

	vault := &cobra.Command{
		Use:   "vault <project>",
		Short: "Show the project vault balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/projects/"+url.PathEscape(args[0])+"/vault", nil)
		},
	}

	milestones := &cobra.Command{
		Use:   "milestones <project>",
		Short: "List project milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/projects/"+url.PathEscape(args[0])+"/milestones", nil)
		},
	}

	addMilestone := &cobra.Command{
		Use:   "add-milestone <project>",
		Short: "Fund a new milestone from the caller's token account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetUint8("id")
			amount, _ := cmd.Flags().GetUint64("amount")
			body := map[string]any{"milestone_id": id, "amount": amount}
			if from, _ := cmd.Flags().GetString("from"); from != "" {
				body["client_token_account"] = from
			}
			return call(cmd, http.MethodPost, "/projects/"+url.PathEscape(args[0])+"/milestones", body)
		},
	}
	addMilestone.Flags().Uint8("id", 0, "Milestone id (required)")
	addMilestone.Flags().Uint64("amount", 0, "Amount in base units (required)")
	addMilestone.Flags().String("from", "", "Source token account (defaults to the caller's canonical account)")
	_ = addMilestone.MarkFlagRequired("id")
	_ = addMilestone.MarkFlagRequired("amount")

	accept := &cobra.Command{
		Use:   "accept <project>",
		Short: "Accept a project as freelancer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/projects/"+url.PathEscape(args[0])+"/accept", nil)
		},
	}

	release := &cobra.Command{
		Use:   "release <project> <milestone-id>",
		Short: "Release a milestone to the freelancer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]string
			if to, _ := cmd.Flags().GetString("to"); to != "" {
				body = map[string]string{"freelancer_token_account": to}
			}
			path := "/projects/" + url.PathEscape(args[0]) + "/milestones/" + url.PathEscape(args[1]) + "/release"
			if body == nil {
				return call(cmd, http.MethodPost, path, nil)
			}
			return call(cmd, http.MethodPost, path, body)
		},
	}
	release.Flags().String("to", "", "Destination token account (defaults to the assignee's canonical account)")

	cmd.AddCommand(create, show, vault, milestones, addMilestone, accept, release)
	return cmd
}

// AccountCmd 代币账户相关的 API 调用
func AccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage token accounts",
	}

	open := &cobra.Command{
		Use:   "open <mint>",
		Short: "Open (or fetch) the caller's canonical token account for a mint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/token-accounts", map[string]string{"mint": args[0]})
		},
	}

	show := &cobra.Command{
		Use:   "show <address>",
		Short: "Show a token account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/token-accounts/"+url.PathEscape(args[0]), nil)
		},
	}

	cmd.AddCommand(open, show)
	return cmd
}

func call(cmd *cobra.Command, method, path string, body any) error {
	var out map[string]any
	if err := clientFromFlags(cmd).Do(commandContext(cmd), method, path, body, &out); err != nil {
		return err
	}
	return printResult(cmd, out)
}
