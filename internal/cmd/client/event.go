package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/mptrack/pkg/tracker"
	"github.com/rzbill/mptrack/pkg/types"
)

// NewEventCommand constructs the `event` command group.
func NewEventCommand() *cobra.Command {
	eventCmd := &cobra.Command{Use: "event", Short: "Event operations"}
	eventCmd.AddCommand(newEventLogCommand(), newEventPageViewCommand())
	return eventCmd
}

func newEventLogCommand() *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Log a custom event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			typ, _ := cmd.Flags().GetString("type")
			rawAttrs, _ := cmd.Flags().GetStringArray("attr")
			et, err := parseEventType(typ)
			if err != nil {
				return err
			}
			attrs, err := parsePairs(rawAttrs)
			if err != nil {
				return err
			}
			return withInstance(cmd, func(_ context.Context, in *tracker.Instance) (any, error) {
				return nil, in.LogEvent(name, et, toAny(attrs))
			})
		},
	}
	logCmd.Flags().String("name", "", "Event name")
	logCmd.Flags().String("type", "other", "Event type, e.g. navigation|search|transaction|other")
	logCmd.Flags().StringArray("attr", nil, "Attribute key=value (repeatable)")
	return logCmd
}

func newEventPageViewCommand() *cobra.Command {
	pvCmd := &cobra.Command{
		Use:   "pageview",
		Short: "Log a page view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			rawAttrs, _ := cmd.Flags().GetStringArray("attr")
			attrs, err := parsePairs(rawAttrs)
			if err != nil {
				return err
			}
			return withInstance(cmd, func(_ context.Context, in *tracker.Instance) (any, error) {
				return nil, in.LogPageView(name, toAny(attrs))
			})
		},
	}
	pvCmd.Flags().String("name", "", "Page name (PageView when empty)")
	pvCmd.Flags().StringArray("attr", nil, "Attribute key=value (repeatable)")
	return pvCmd
}

func parseEventType(s string) (types.EventType, error) {
	norm := strings.ReplaceAll(strings.ToLower(s), "-", " ")
	for t := types.EventTypeUnknown; t <= types.EventTypeMedia; t++ {
		if strings.ToLower(t.Name()) == norm {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

func toAny(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
