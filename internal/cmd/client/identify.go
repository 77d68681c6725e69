package client

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/mptrack/internal/identity"
	"github.com/rzbill/mptrack/pkg/tracker"
	"github.com/rzbill/mptrack/pkg/types"
)

// NewIdentifyCommand constructs the `identify` command.
func NewIdentifyCommand() *cobra.Command {
	identifyCmd := &cobra.Command{
		Use:   "identify",
		Short: "Run an identity call (identify|login|logout|modify)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			method, _ := cmd.Flags().GetString("method")
			rawIDs, _ := cmd.Flags().GetStringArray("identity")
			req, err := parseIdentities(rawIDs)
			if err != nil {
				return err
			}
			return withInstance(cmd, func(ctx context.Context, in *tracker.Instance) (any, error) {
				id := in.Identity()
				switch identity.Method(method) {
				case identity.Identify:
					return id.Identify(ctx, req)
				case identity.Login:
					return id.Login(ctx, req)
				case identity.Logout:
					return id.Logout(ctx, req)
				case identity.Modify:
					return id.Modify(ctx, req)
				default:
					return nil, fmt.Errorf("invalid --method %q; use identify|login|logout|modify", method)
				}
			})
		},
	}
	identifyCmd.Flags().String("method", string(identity.Identify), "Identity method")
	identifyCmd.Flags().StringArray("identity", nil, "Identity type=value, e.g. email=a@example.com (repeatable)")
	return identifyCmd
}

func parseIdentities(pairs []string) (identity.Request, error) {
	m, err := parsePairs(pairs)
	if err != nil {
		return identity.Request{}, err
	}
	req := identity.Request{UserIdentities: make(map[types.IdentityType]string, len(m))}
	for k, v := range m {
		t, ok := types.ParseIdentityType(k)
		if !ok {
			return identity.Request{}, fmt.Errorf("unknown identity type %q", k)
		}
		req.UserIdentities[t] = v
	}
	return req, req.Validate()
}
