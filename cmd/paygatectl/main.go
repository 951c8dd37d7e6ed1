// paygatectl builds and checks VNPay signed URLs from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paygatectl",
		Short:         "paygatectl - VNPay signing and verification tools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("secret", os.Getenv("VNPAY_HASH_SECRET"), "HMAC-SHA512 hash secret (VNPAY_HASH_SECRET)")

	rootCmd.AddCommand(urlCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())

	return rootCmd
}
