package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var splitBrainPath string
var splitBrainTTLSeconds int

var splitBrainCmd = &cobra.Command{
	Use:   "splitbrain",
	Short: "Inspect and resolve split-brain files",
}

var splitBrainCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a file is in split-brain",
	RunE:  runSplitBrainCheck,
}

var splitBrainChooseCmd = &cobra.Command{
	Use:   "choose",
	Short: "Interactively pick the authoritative replica for a split-brain file",
	RunE:  runSplitBrainChoose,
}

func init() {
	splitBrainCmd.PersistentFlags().StringVar(&splitBrainPath, "path", "", "file path to inspect (required)")
	splitBrainChooseCmd.Flags().IntVar(&splitBrainTTLSeconds, "ttl-seconds", 300, "seconds before the choice auto-clears")
	splitBrainCmd.AddCommand(splitBrainCheckCmd)
	splitBrainCmd.AddCommand(splitBrainChooseCmd)
}

func runSplitBrainCheck(cmd *cobra.Command, args []string) error {
	if splitBrainPath == "" {
		return fmt.Errorf("--path is required")
	}
	rs, closeFn, err := openReplicaSet(cfgFile)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	st, err := rs.CheckSplitBrain(ctx, splitBrainPath)
	if err != nil {
		return err
	}
	if !st.SplitBrain {
		fmt.Printf("%s: not in split-brain\n", splitBrainPath)
		return nil
	}
	fmt.Printf("%s: SPLIT-BRAIN on dimension %s\n", splitBrainPath, st.Dimension)
	for i, accused := range st.Accused {
		if accused {
			fmt.Printf("  replica %d: accused\n", i)
		}
	}
	return nil
}

func runSplitBrainChoose(cmd *cobra.Command, args []string) error {
	if splitBrainPath == "" {
		return fmt.Errorf("--path is required")
	}
	rs, closeFn, err := openReplicaSet(cfgFile)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	st, err := rs.CheckSplitBrain(ctx, splitBrainPath)
	if err != nil {
		return err
	}
	if !st.SplitBrain {
		fmt.Printf("%s: not in split-brain, nothing to choose\n", splitBrainPath)
		return nil
	}

	prompt := promptui.Prompt{
		Label: "Replica index to treat as authoritative",
		Validate: func(input string) error {
			_, err := strconv.Atoi(input)
			return err
		},
	}
	result, err := prompt.Run()
	if err != nil {
		return fmt.Errorf("prompt aborted: %w", err)
	}
	idx, _ := strconv.Atoi(result)

	rs.ChooseSplitBrainSource(ctx, splitBrainPath, idx, time.Duration(splitBrainTTLSeconds)*time.Second)
	fmt.Printf("%s: replica %d chosen as source, expires in %ds\n", splitBrainPath, idx, splitBrainTTLSeconds)
	return nil
}
