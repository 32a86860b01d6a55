package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alimasry/go-oplog/store"
)

var checkCmd = &cobra.Command{
	Use:          "check <doc-id>",
	Short:        "Check that a stored document's log reproduces its content",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	return checkDocument(ctx, cmd, st, args[0])
}

func checkDocument(ctx context.Context, cmd *cobra.Command, st store.DocumentStore, id string) error {
	info, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	converged, err := store.VerifyLog(ctx, st, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "document %s: version %d, %d chars\n", info.ID, info.Version, len([]rune(info.Content)))
	if !converged {
		replayed, err := store.Replay(ctx, st, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored:   %q\nreplayed: %q\n", info.Content, replayed.Content())
		return errMismatch
	}
	fmt.Fprintln(out, "ok")
	return nil
}
