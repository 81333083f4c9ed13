package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/niama/aiko/internal/ingest"
	"github.com/niama/aiko/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "offer [question]",
		Short: "Offer a question to the backlog",
		Long:  "Push one event through the admission filter, exactly as a chat source would. Useful for rehearsing without a live platform.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runOffer,
	}
	cmd.Flags().StringP("source", "s", "", "Source identity (required)")
	cmd.Flags().StringP("type", "t", string(model.EventLiveChat), "Event type: speech or live_chat")
	cmd.MarkFlagRequired("source")
	RootCmd.AddCommand(cmd)
}

func runOffer(cmd *cobra.Command, args []string) {
	sourceID, _ := cmd.Flags().GetString("source")
	eventType, _ := cmd.Flags().GetString("type")

	s, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ingest.New(s).Offer(cmd.Context(), sourceID, model.EventType(eventType), strings.Join(args, " "))
}
