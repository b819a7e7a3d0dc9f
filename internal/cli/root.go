package cli

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:8080"
	envServer     = "TRUSTCTL_SERVER"
	envToken      = "TRUSTCTL_TOKEN"
)

// RootCmd 组装 trustctl 的全部子命令
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trustctl",
		Short:         "trustctl - escrow toolbox",
		Long:          `trustctl derives escrow addresses offline and drives the trustfund HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().String("server", server, "trustfund API base URL (env "+envServer+")")
	cmd.PersistentFlags().String("token", os.Getenv(envToken), "bearer token (env "+envToken+")")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(KeygenCmd())
	cmd.AddCommand(DeriveCmd())
	cmd.AddCommand(HashPasswordCmd())
	cmd.AddCommand(LoginCmd())
	cmd.AddCommand(ProjectCmd())
	cmd.AddCommand(AccountCmd())
	cmd.AddCommand(AdminCmd())

	return cmd
}

func Execute() error {
	return RootCmd().Execute()
}
