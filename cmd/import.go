package cmd

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"grimm.is/warden/internal/rulesource"
	"grimm.is/warden/internal/state"
)

const importUsage = `usage:
  import block <file|->        add block records (domains or pkg|ip|port)
  import white <file|->        add whitelist records (domains or pkg|url)
  import app [flags] <app>     set app flags (-restricted -whitelisted -user)
  import dns <dns1> <dns2>     set the DNS override pair ("" "" clears it)`

// RunImport loads records into the rule sources.
func RunImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New(importUsage)
	}

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch kind, rest := rest[0], rest[1:]; kind {
	case "block", "white":
		if len(rest) != 1 {
			return errors.New(importUsage)
		}
		add := rt.source.AddBlock
		if kind == "white" {
			add = rt.source.AddWhite
		}
		n, err := importFile(rest[0], add)
		if err != nil {
			return err
		}
		rt.logger.Audit("import", kind, map[string]any{"source": rest[0], "added": n})
		return nil
	case "app":
		if err := importApp(rt.source, rest); err != nil {
			return err
		}
		rt.logger.Audit("import", kind, map[string]any{"app": rest[len(rest)-1]})
		return nil
	case "dns":
		if len(rest) != 2 {
			return errors.New(importUsage)
		}
		if err := rt.source.SetDNS(rest[0], rest[1]); err != nil {
			return err
		}
		rt.logger.Audit("import", kind, map[string]any{"dns1": rest[0], "dns2": rest[1]})
		Printer.Fprintf(stdout, "DNS override set to %q %q\n", rest[0], rest[1])
		return nil
	default:
		return fmt.Errorf("unknown import kind %q\n%s", kind, importUsage)
	}
}

func importFile(path string, add func(string) (string, error)) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	res, err := importRecords(r, add)
	if err != nil {
		return 0, err
	}
	for _, rej := range res.Rejected {
		Printer.Fprintf(stdout, "line %d: rejected %q: %v\n", rej.Line, rej.Record, rej.Err)
	}
	Printer.Fprintf(stdout, "Imported %d records, rejected %d\n", len(res.Added), len(res.Rejected))
	return len(res.Added), nil
}

type rejectedRecord struct {
	Line   int
	Record string
	Err    error
}

type importResult struct {
	Added    []string
	Rejected []rejectedRecord
}

// importRecords adds one record per line. Blank lines and # comments are
// ignored. Invalid records are reported, not fatal.
func importRecords(r io.Reader, add func(string) (string, error)) (importResult, error) {
	var res importResult
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := add(text)
		if err != nil {
			res.Rejected = append(res.Rejected, rejectedRecord{Line: line, Record: text, Err: err})
			continue
		}
		res.Added = append(res.Added, rec)
	}
	return res, sc.Err()
}

func importApp(src *rulesource.Source, args []string) error {
	fs := flag.NewFlagSet("import app", flag.ExitOnError)
	restricted := fs.Bool("restricted", false, "Deny mobile data")
	whitelisted := fs.Bool("whitelisted", false, "Exempt from domain blocking")
	user := fs.Bool("user", false, "User-installed (receives the DNS override)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New(importUsage)
	}
	app := fs.Arg(0)
	info := rulesource.AppInfo{Restricted: *restricted, Whitelisted: *whitelisted, User: *user}
	if err := src.PutApp(app, info); err != nil {
		return err
	}
	Printer.Fprintf(stdout, "App %s: restricted=%t whitelisted=%t user=%t\n",
		app, info.Restricted, info.Whitelisted, info.User)
	return nil
}

// RunRemove deletes records from the rule sources.
func RunRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 2 {
		return errors.New("usage: remove block|white|app <record>")
	}
	kind, record := fs.Arg(0), fs.Arg(1)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch kind {
	case "block":
		err = rt.source.RemoveBlock(record)
	case "white":
		err = rt.source.RemoveWhite(record)
	case "app":
		err = rt.source.RemoveApp(record)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%s record %q not found", kind, record)
	}
	if err != nil {
		return err
	}
	rt.logger.Audit("remove", kind, map[string]any{"record": record})
	Printer.Fprintf(stdout, "Removed %s record %s\n", kind, record)
	return nil
}
