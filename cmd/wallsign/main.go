package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/sigcodec"
)

// Version will be set during build time
var Version string

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitRejected = 3
)

type usageError struct{ error }

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func newApp(in io.Reader, out, errOut io.Writer) *cli.App {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "wallsign"
	app.Usage = "encode, decode, reconcile and render wall signatures"
	app.Reader = in
	app.Writer = out
	app.ErrWriter = errOut
	app.Commands = append(
		app.Commands,
		encodeCmd,
		decodeCmd,
		rangeCmd,
		reconcileCmd,
		renderCmd,
		cidCmd,
		blobsCmd,
	)
	app.OnUsageError = onUsageError
	for _, cmd := range app.Commands {
		cmd.OnUsageError = onUsageError
		for _, sub := range cmd.Subcommands {
			sub.OnUsageError = onUsageError
		}
	}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return usageError{err}
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	err := newApp(in, out, errOut).Run(args)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(errOut, "error: %v\n", err)

	var uerr usageError
	switch {
	case errors.As(err, &uerr):
		return exitUsage
	case reconcile.IsKind(err, reconcile.KindStrict),
		sigcodec.IsKind(err, sigcodec.KindMalformed),
		sigcodec.IsKind(err, sigcodec.KindAmbiguous),
		sigcodec.IsKind(err, sigcodec.KindSizeExceeded):
		return exitRejected
	default:
		return exitError
	}
}
