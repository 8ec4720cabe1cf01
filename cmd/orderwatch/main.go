// Command orderwatch follows an order's payment status through the API, the same way the
// checkout page does: a grace delay, then polling until paid, declined or timed out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "orderwatch",
		Short:   "Follow checkout payment status",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("api", envOr("ORDERWATCH_API", "http://localhost:8080"), "Base URL of the checkout API")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
