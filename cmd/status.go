package cmd

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/controller"
	"grimm.is/warden/internal/i18n"
)

// RunStatus prints the installed policy state.
func RunStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := rt.ctrl.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query backend: %w", err)
	}
	fmt.Fprintln(stdout, renderStatus(st))
	return nil
}

func renderStatus(st controller.Status) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, styleLabel.Render(label), value)
	}
	state := func(on bool) string {
		if on {
			return styleGood.Render("on")
		}
		return styleBad.Render("off")
	}

	enforcement := styleBad.Render(Printer.Sprintf(i18n.MsgEnforcementOff))
	if st.Enabled {
		enforcement = styleGood.Render(Printer.Sprintf(i18n.MsgEnforcementOn))
	}

	lines := []string{
		styleTitle.Render(brand.Name + " policy status"),
		enforcement,
		row("Reporting", state(st.Reporting)),
		row("Firewall rules", fmt.Sprint(st.FirewallRules)),
		row("Domain rules", fmt.Sprint(st.DomainRules)),
	}
	if p := st.LastPass; p != nil {
		result := styleGood.Render("ok")
		if p.Error != "" {
			result = styleBad.Render(p.Error)
		}
		lines = append(lines,
			row("Last pass", fmt.Sprintf("%s %s (%s)", p.Kind, p.ID, p.Finished.Sub(p.Started).Round(time.Millisecond))),
			row("Result", result),
		)
	}
	return strings.Join(lines, "\n")
}
