package cmd

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/policy"
)

// exportDocument is the YAML form of a compiled policy.
type exportDocument struct {
	Generator string                `yaml:"generator"`
	Generated time.Time             `yaml:"generated"`
	Firewall  []policy.FirewallRule `yaml:"firewall"`
	Domain    []policy.PolicyRule   `yaml:"domain"`
	Reports   []policy.Report       `yaml:"reports"`
}

// RunExport compiles the policy and writes it as YAML. Nothing is installed.
func RunExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	output := fs.String("output", "", "Write to file instead of stdout")
	fs.StringVar(output, "o", "", "Output file (short)")
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

	data, err := marshalPlan(plan, time.Now())
	if err != nil {
		return err
	}
	if *output == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}
	Printer.Fprintf(stdout, "Policy written to %s\n", *output)
	return nil
}

func marshalPlan(plan *policy.Plan, now time.Time) ([]byte, error) {
	doc := exportDocument{
		Generator: brand.UserAgent(brand.Version),
		Generated: now.UTC(),
		Firewall:  plan.Firewall,
		Domain:    plan.Domain,
		Reports:   plan.Reports,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return data, nil
}
