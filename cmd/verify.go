package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alimasry/go-oplog/ot"
)

// verifyCase is the file format read by `oplog verify`. JSON files parse
// too, since YAML is a superset.
type verifyCase struct {
	Stale  string   `yaml:"stale"`
	Latest string   `yaml:"latest"`
	Ops    []caseOp `yaml:"ops"`
}

type caseOp struct {
	Op    string `yaml:"op"`
	Count int    `yaml:"count"`
	Chars string `yaml:"chars"`
}

var errMismatch = errors.New("replayed content does not match latest")

var verifyCmd = &cobra.Command{
	Use:   "verify <case-file>",
	Short: "Replay an operation log over a stale document and compare",
	Long: `Reads a YAML or JSON file with stale, latest, and ops fields, replays the
ops over the stale text, and reports whether the result equals latest.
On mismatch the difference between latest and the replayed text is shown.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runVerify,
}

func loadVerifyCase(path string) (*verifyCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}
	var vc verifyCase
	if err := yaml.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("parsing case file: %w", err)
	}
	return &vc, nil
}

func (vc *verifyCase) operations() []ot.Operation {
	ops := make([]ot.Operation, 0, len(vc.Ops))
	for _, o := range vc.Ops {
		ops = append(ops, ot.NewOperation(o.Op, o.Count, o.Chars))
	}
	return ops
}

func runVerify(cmd *cobra.Command, args []string) error {
	vc, err := loadVerifyCase(args[0])
	if err != nil {
		return err
	}

	v := ot.NewVerify(vc.Stale, vc.Latest, vc.operations())
	out := cmd.OutOrStdout()
	if v.Execute() {
		fmt.Fprintln(out, "ok")
		return nil
	}

	replayed := v.Replay().Content()
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(v.Latest(), replayed, false)
	fmt.Fprintf(out, "mismatch after %d ops\n", len(vc.Ops))
	fmt.Fprintf(out, "latest:   %q\nreplayed: %q\n", v.Latest(), replayed)
	fmt.Fprintln(out, dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs)))
	return errMismatch
}
