// matrixctl is the operator CLI for the variation matrix service.
// Each command performs a single operation, making it composable for scripts.
//
// Examples:
//
//	matrixctl matrix 60
//	matrixctl grid 60 --first pa_color=red,blue --second pa_size=s,m --set red/m --confirm
//	matrixctl apply 60 --create pa_color=green,pa_size=s --delete 71
//	matrixctl orders 60
//	matrixctl submissions 60 --limit 5
package main

import (
	"os"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// Global flags (apply to all commands)
var (
	serverURL string
	adminKey  string
	noColor   bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "matrixctl",
	Short: "Inspect and edit WooCommerce product variations through the matrix service",
	Long: `matrixctl talks to a running varmatrix server. It reads a product's
variation matrix, edits it through a matrix session, applies raw change sets
and shows which attribute combinations were ordered more than once.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MATRIX_SERVER", "http://localhost:8080"), "matrix service base URL")
	rootCmd.PersistentFlags().StringVar(&adminKey, "key", os.Getenv("MATRIX_KEY"), "admin key sent in the Matrix-Credential header")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	rootCmd.AddCommand(matrixCmd, gridCmd, applyCmd, ordersCmd, submissionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newClient builds the API client from the global flags.
func newClient() *apiClient {
	return &apiClient{
		base:    serverURL,
		key:     adminKey,
		timeout: timeout,
	}
}

// newPrinter picks the color profile from the flags and the terminal.
func newPrinter(cmd *cobra.Command) *printer {
	profile := termenv.ColorProfile()
	if noColor || termenv.EnvNoColor() {
		profile = termenv.Ascii
	}
	return &printer{w: cmd.OutOrStdout(), profile: profile}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
