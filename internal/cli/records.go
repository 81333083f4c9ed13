package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List backlog records",
		Run:   runRecords,
	}
	cmd.Flags().Bool("pending", false, "Only show unanswered records")
	RootCmd.AddCommand(cmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show backlog statistics",
		Run:   runStats,
	}
	RootCmd.AddCommand(statsCmd)
}

func runRecords(cmd *cobra.Command, args []string) {
	pending, _ := cmd.Flags().GetBool("pending")

	s, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	list := s.ListAll
	if pending {
		list = s.ListUnanswered
	}
	records, err := list(cmd.Context())
	if err != nil {
		exitErr("records", err)
	}

	b, _ := json.MarshalIndent(records, "", "  ")
	fmt.Println(string(b))
}

func runStats(cmd *cobra.Command, args []string) {
	s, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
