package cmd

import (
	"errors"
	"flag"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/i18n"
)

// ErrPolicyDiffers is returned by RunDiff when the installed policy is stale.
var ErrPolicyDiffers = errors.New("installed policy differs from compiled policy")

// RunDiff compares the compiled policy against what is installed.
func RunDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	plan, err := rt.ctrl.Compile(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}
	installed, err := rt.applier.Installed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read installed policy: %w", err)
	}

	text := diffSnapshots(firewall.SnapshotFromPlan(plan), installed)
	if text == "" {
		Printer.Fprintf(stdout, "%s\n", Printer.Sprintf(i18n.MsgNoChanges))
		return nil
	}
	Printer.Fprintf(stdout, "%s\n", Printer.Sprintf(i18n.MsgPolicyDiffers))
	fmt.Fprint(stdout, text)
	return ErrPolicyDiffers
}

// diffSnapshots returns a unified diff from installed to compiled, or ""
// when they render identically.
func diffSnapshots(compiled, installed firewall.Snapshot) string {
	a, b := firewall.Render(installed), firewall.Render(compiled)
	if a == b {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "Installed",
		ToFile:   "Compiled",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}
