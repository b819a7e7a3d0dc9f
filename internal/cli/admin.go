package cli

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// AdminCmd 需要 admin 角色的 API 调用
func AdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator operations (mints, outbox replay)",
	}
	cmd.PersistentFlags().String("idempotency-key", "", "Idempotency-Key header for write requests")

	createMint := &cobra.Command{
		Use:   "create-mint",
		Short: "Create a mint controlled by the ledger mint authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			decimals, _ := cmd.Flags().GetUint8("decimals")
			return call(cmd, http.MethodPost, "/admin/mints", map[string]any{"decimals": decimals})
		},
	}
	createMint.Flags().Uint8("decimals", 6, "Mint decimals")

	mintTo := &cobra.Command{
		Use:   "mint-to <mint>",
		Short: "Mint tokens into an owner's canonical account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			amount, _ := cmd.Flags().GetUint64("amount")
			return call(cmd, http.MethodPost, "/admin/mints/"+url.PathEscape(args[0])+"/mint-to", map[string]any{
				"owner":  owner,
				"amount": amount,
			})
		},
	}
	mintTo.Flags().String("owner", "", "Wallet receiving the tokens (required)")
	mintTo.Flags().Uint64("amount", 0, "Amount in base units (required)")
	_ = mintTo.MarkFlagRequired("owner")
	_ = mintTo.MarkFlagRequired("amount")

	replay := &cobra.Command{
		Use:   "replay <event-id>",
		Short: "Republish one outbox event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return err
			}
			return call(cmd, http.MethodPost, "/admin/outbox/replay?id="+url.QueryEscape(args[0]), nil)
		},
	}

	replayFailed := &cobra.Command{
		Use:   "replay-failed",
		Short: "Republish failed outbox events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return call(cmd, http.MethodPost, "/admin/outbox/replay-failed?limit="+strconv.Itoa(limit), nil)
		},
	}
	replayFailed.Flags().Int("limit", 100, "Maximum events to replay")

	cmd.AddCommand(createMint, mintTo, replay, replayFailed)
	return cmd
}
