package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the tracker client.
// It registers the event, purchase, identify and reset commands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "mptrack",
		Short: "mptrack client commands",
	}
	AddTrackerFlags(root)
	root.AddCommand(NewEventCommand())
	root.AddCommand(NewPurchaseCommand())
	root.AddCommand(NewIdentifyCommand())
	root.AddCommand(NewResetCommand())
	return root
}
