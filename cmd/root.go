package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoicemap/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicemap",
	Short: "Map photographed supplier invoices onto a product catalog",
	Long: `invoicemap turns photographs of handwritten or printed supplier invoices
into structured line items mapped onto your product catalog.

The pipeline has two phases: a vision model extracts the raw line items from
the photograph, then each item is matched against the embedded catalog and a
text model adjudicates the candidates. Index your catalog once with
'invoicemap index', then process invoices with 'invoicemap process'.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err, "Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
