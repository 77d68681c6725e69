package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/mptrack/pkg/commerce"
	"github.com/rzbill/mptrack/pkg/tracker"
)

// NewPurchaseCommand constructs the `purchase` command group.
func NewPurchaseCommand() *cobra.Command {
	purchaseCmd := &cobra.Command{Use: "purchase", Short: "Commerce operations"}
	purchaseCmd.AddCommand(newPurchaseLogCommand())
	return purchaseCmd
}

func newPurchaseLogCommand() *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Log a purchase",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("transaction-id")
			affiliation, _ := cmd.Flags().GetString("affiliation")
			coupon, _ := cmd.Flags().GetString("coupon")
			revenue, _ := cmd.Flags().GetFloat64("revenue")
			shipping, _ := cmd.Flags().GetFloat64("shipping")
			tax, _ := cmd.Flags().GetFloat64("tax")
			currency, _ := cmd.Flags().GetString("currency")
			rawProducts, _ := cmd.Flags().GetStringArray("product")

			ta, err := commerce.NewTransactionAttributes(id, affiliation, coupon, revenue, shipping, tax)
			if err != nil {
				return err
			}
			products := make([]commerce.Product, 0, len(rawProducts))
			for _, raw := range rawProducts {
				p, err := parseProduct(raw)
				if err != nil {
					return err
				}
				products = append(products, p)
			}
			return withInstance(cmd, func(_ context.Context, in *tracker.Instance) (any, error) {
				ec := in.ECommerce()
				if currency != "" {
					if err := ec.SetCurrencyCode(currency); err != nil {
						return nil, err
					}
				}
				return nil, ec.LogPurchase(ta, products, nil)
			})
		},
	}
	logCmd.Flags().String("transaction-id", "", "Transaction id")
	logCmd.Flags().String("affiliation", "", "Affiliation")
	logCmd.Flags().String("coupon", "", "Coupon code")
	logCmd.Flags().Float64("revenue", 0, "Revenue")
	logCmd.Flags().Float64("shipping", 0, "Shipping")
	logCmd.Flags().Float64("tax", 0, "Tax")
	logCmd.Flags().String("currency", "", "ISO 4217 currency code")
	logCmd.Flags().StringArray("product", nil, "Product name:sku:price[:quantity] (repeatable)")
	return logCmd
}

// parseProduct parses "name:sku:price[:quantity]".
func parseProduct(s string) (commerce.Product, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return commerce.Product{}, fmt.Errorf("invalid product %q; use name:sku:price[:quantity]", s)
	}
	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return commerce.Product{}, fmt.Errorf("invalid product price %q: %w", parts[2], err)
	}
	qty := 1.0
	if len(parts) == 4 {
		if qty, err = strconv.ParseFloat(parts[3], 64); err != nil {
			return commerce.Product{}, fmt.Errorf("invalid product quantity %q: %w", parts[3], err)
		}
	}
	return commerce.NewProduct(parts[0], parts[1], price, qty)
}
