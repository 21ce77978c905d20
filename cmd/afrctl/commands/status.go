package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica up/down and quorum status",
	Long: `Display each replica's up/down state, last observed latency, the
current event generation, and whether the set currently has quorum.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	rs, closeFn, err := openReplicaSet(cfgFile)
	if err != nil {
		return err
	}
	defer closeFn()

	children, eventGen, hasQuorum := rs.Status()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"REPLICA", "STATE", "LATENCY (ms)"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for i, c := range children {
		state := "DOWN"
		latency := "-"
		if c.Up {
			state = "UP"
			if c.Latency >= 0 {
				latency = fmt.Sprintf("%d", c.Latency)
			}
		}
		table.Append([]string{fmt.Sprintf("%d", i), state, latency})
	}
	table.Render()

	quorumStr := "lost"
	if hasQuorum {
		quorumStr = "met"
	}
	fmt.Printf("\nevent generation: %d\nquorum: %s\n", eventGen, quorumStr)
	return nil
}
