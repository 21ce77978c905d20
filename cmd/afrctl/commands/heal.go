package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Inspect the lock-heal queue",
}

var healQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show how many saved locks are currently queued for heal",
	RunE:  runHealQueue,
}

func init() {
	healCmd.AddCommand(healQueueCmd)
}

func runHealQueue(cmd *cobra.Command, args []string) error {
	rs, closeFn, err := openReplicaSet(cfgFile)
	if err != nil {
		return err
	}
	defer closeFn()

	n := rs.HealQueueLen()
	if n == 0 {
		fmt.Println("lock-heal queue is empty")
		return nil
	}
	fmt.Printf("%d saved lock(s) queued for heal\n", n)
	return nil
}
