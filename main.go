package main

import (
	"errors"
	"os"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error

	switch os.Args[1] {
	case "enable":
		err = cmd.RunEnable(args)
	case "disable":
		err = cmd.RunDisable(args)
	case "status":
		err = cmd.RunStatus(args)
	case "diff":
		err = cmd.RunDiff(args)
	case "export":
		err = cmd.RunExport(args)
	case "import":
		err = cmd.RunImport(args)
	case "remove":
		err = cmd.RunRemove(args)
	case "serve":
		err = cmd.RunServe(args)
	case "config":
		err = cmd.RunConfig(args)
	case "version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, cmd.ErrPolicyDiffers) {
		os.Exit(1)
	}
	if err != nil {
		printer.Fprintf(os.Stderr, "%s %s: %v\n", brand.LowerName, os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Policy Commands:
  enable    Compile the policy and install it
  disable   Remove the installed policy
  status    Show enforcement state and installed rule counts
  diff      Compare the compiled policy with the installed one
  export    Write the compiled policy as YAML
            Options: --output (-o) <file>

Rule Source Commands:
  import    Add records: block|white <file>, app <id>, dns <dns1> <dns2>
  remove    Remove records: block|white|app <record>

Service Commands:
  serve     Run the HTTP control API
            Options: --listen <addr>
  config    Show or check the configuration
            Subcommands: show, check

Common options:
  --config (-c) <file>   Configuration file (default %s)
  --dry-run (-n)         Use an in-memory backend

Other:
  version   Show version
  help      Show this help
`, brand.Name, brand.Description, brand.LowerName, brand.GetConfigPath())
}
