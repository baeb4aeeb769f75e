package cmd

import (
	"errors"
	"flag"
	"fmt"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
)

// RunConfig handles "config show" and "config check".
func RunConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configFile := fs.String("config", brand.GetConfigPath(), "Configuration file")
	fs.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
	fs.Parse(args)

	action := "show"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	cfg, err := config.LoadFile(*configFile)
	switch action {
	case "check":
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				Printer.Fprintf(stdout, "  %s\n", e.Error())
			}
			return fmt.Errorf("%s: %d validation errors", *configFile, len(verrs))
		}
		if err != nil {
			return err
		}
		Printer.Fprintf(stdout, "%s: OK\n", *configFile)
		return nil
	case "show":
		if err != nil {
			return err
		}
		_, err = stdout.Write(config.Marshal(cfg))
		return err
	default:
		return fmt.Errorf("unknown config action %q (want show or check)", action)
	}
}
