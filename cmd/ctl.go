package cmd

import (
	"flag"
	"sync"

	"grimm.is/warden/internal/events"
)

// RunEnable compiles the policy and installs it, streaming progress lines.
func RunEnable(args []string) error {
	fs := flag.NewFlagSet("enable", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stop := followProgress(rt.hub)
	err = rt.ctrl.Enable(ctx)
	stop()
	return err
}

// RunDisable removes the installed policy.
func RunDisable(args []string) error {
	fs := flag.NewFlagSet("disable", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	fs.Parse(args)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stop := followProgress(rt.hub)
	err = rt.ctrl.Disable(ctx)
	stop()
	return err
}

// followProgress prints progress events until the returned stop function
// is called. Events still buffered at that point are printed too.
func followProgress(hub *events.Hub) func() {
	ch := hub.Subscribe(1024, events.EventProgress)
	done := make(chan struct{})
	var wg sync.WaitGroup

	show := func(e events.Event) {
		if d, ok := e.Data.(events.ProgressData); ok {
			Printer.Fprintf(stdout, "%s\n", d.Message)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case e := <-ch:
				show(e)
			case <-done:
				for {
					select {
					case e := <-ch:
						show(e)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		hub.Unsubscribe(ch)
		close(done)
		wg.Wait()
	}
}
