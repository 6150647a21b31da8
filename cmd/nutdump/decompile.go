package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"nutdump/emit"
	"nutdump/engine"
	"nutdump/loader"
)

type decompileCmd struct {
	debug   bool
	out     string
	compare string
}

func (*decompileCmd) Name() string     { return "decompile" }
func (*decompileCmd) Synopsis() string { return "Decompile a compiled Squirrel closure to source text" }
func (*decompileCmd) Usage() string {
	return `nutdump decompile <file>:
  Load a compiled closure and emit reconstructed source to stdout, or to
  the file named by -o.
`
}

func (cmd *decompileCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.debug, "d", false, "annotate emitted source with // line N debug comments")
	f.StringVar(&cmd.out, "o", "", "write decompiled source here instead of stdout")
	f.StringVar(&cmd.compare, "cmp", "", "compare the loaded function tree's instruction streams against a second binary")
}

func (cmd *decompileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		return fail("no input file given")
	}
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fail("failed to read %s: %v", path, err)
	}

	fn, err := loader.Load(newReader(data), loader.DefaultOptions())
	if err != nil {
		return fail("%v", err)
	}

	if cmd.compare != "" {
		otherData, err := os.ReadFile(cmd.compare)
		if err != nil {
			return fail("failed to read %s: %v", cmd.compare, err)
		}
		other, err := loader.Load(newReader(otherData), loader.DefaultOptions())
		if err != nil {
			return fail("failed to load %s: %v", cmd.compare, err)
		}
		equal, mismatch := loader.Compare(fn, other)
		if equal {
			fmt.Println("✅ instruction streams match")
		} else {
			fmt.Printf("❌ instruction streams differ: %s\n", mismatch)
			return subcommands.ExitFailure
		}
	}

	opts := engine.Options{Debug: cmd.debug}
	source, warnings := emit.RenderFunction(fn, opts)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", w)
	}

	if cmd.out == "" {
		fmt.Print(source)
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(cmd.out, []byte(source), 0o644); err != nil {
		return fail("failed to write %s: %v", cmd.out, err)
	}
	return subcommands.ExitSuccess
}
