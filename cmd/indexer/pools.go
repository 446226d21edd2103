package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"belief-pool-indexer/internal/domain"
)

func newPoolsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "Print the mirrored pool snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := &app{cfg: root.cfg, logger: root.logger}
			defer a.close()

			stores, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			pools, err := stores.Pools.List(ctx)
			if err != nil {
				return fmt.Errorf("list pools: %w", err)
			}
			return renderPools(cmd.OutOrStdout(), pools)
		},
	}
}

func renderPools(w io.Writer, pools []*domain.Pool) error {
	if len(pools) == 0 {
		_, err := fmt.Fprintln(w, "no pools mirrored yet")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Pool", "Belief", "Epoch", "Slot", "Long", "Short", "R long", "R short", "Vault", "Volume", "Source")
	for _, p := range pools {
		source := string(p.RecordedBy)
		if !p.Confirmed {
			source += " (unconfirmed)"
		}
		if err := table.Append(
			shortKey(p.Address),
			shortKey(p.BeliefID),
			strconv.FormatUint(p.CurrentEpoch, 10),
			strconv.FormatUint(p.LastSyncedSlot, 10),
			p.PriceLong.String(),
			p.PriceShort.String(),
			p.RLong.String(),
			p.RShort.String(),
			p.VaultBalance.String(),
			p.TotalVolume.String(),
			source,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// shortKey abbreviates a base58 key to its first and last four characters.
func shortKey(k string) string {
	if len(k) <= 12 {
		return k
	}
	return k[:4] + "…" + k[len(k)-4:]
}
