// Command nutdump turns compiled Squirrel closures back into readable
// source text. It has two subcommands: decompile, which renders a whole
// file in one shot, and inspect, which opens a small REPL over the loaded
// function tree for picking nested closures apart one at a time.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&decompileCmd{}, "")
	subcommands.Register(&inspectCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "💥 "+format+"\n", args...)
	return subcommands.ExitFailure
}

// newReader wraps a loaded file's bytes for loader.Load, which wants an
// io.Reader rather than a byte slice.
func newReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
