package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/niama/aiko/internal/textsim"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sim [a] [b]",
		Short: "Score the similarity of two strings",
		Long:  fmt.Sprintf("Prints the 0-100 similarity ratio used for duplicate suppression and clustering (threshold %d).", textsim.DupThreshold),
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(textsim.Ratio(args[0], args[1]))
		},
	}
	RootCmd.AddCommand(cmd)
}
