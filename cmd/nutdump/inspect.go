package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"nutdump/emit"
	"nutdump/engine"
	"nutdump/loader"
	"nutdump/sqfunc"
)

type inspectCmd struct {
	debug bool
}

func (*inspectCmd) Name() string     { return "inspect" }
func (*inspectCmd) Synopsis() string { return "Open a REPL over a compiled closure's function tree" }
func (*inspectCmd) Usage() string {
	return `nutdump inspect <file>:
  Load a compiled closure and browse its nested functions one at a time.
  Commands: list, select <n>, dump, raw, up, exit.
`
}

func (cmd *inspectCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.debug, "d", false, "annotate emitted source with // line N debug comments")
}

func (cmd *inspectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		return fail("no input file given")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fail("failed to read %s: %v", args[0], err)
	}
	root, err := loader.Load(newReader(data), loader.DefaultOptions())
	if err != nil {
		return fail("%v", err)
	}

	rl, err := readline.New("nutdump> ")
	if err != nil {
		return fail("failed to start readline: %v", err)
	}
	defer rl.Close()

	path := []*sqfunc.Function{root}
	opts := engine.Options{Debug: cmd.debug}

	fmt.Println("inspecting " + displayName(root) + " — type 'help' for commands")
	for {
		current := path[len(path)-1]
		rl.SetPrompt(promptFor(path) + "> ")

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return subcommands.ExitSuccess
		}
		if err != nil {
			return fail("%v", err)
		}

		cmdline := strings.Fields(strings.TrimSpace(line))
		if len(cmdline) == 0 {
			continue
		}

		switch cmdline[0] {
		case "help":
			fmt.Println("list          — show this function's nested closures")
			fmt.Println("select <n>    — descend into nested closure n")
			fmt.Println("up            — go back to the parent function")
			fmt.Println("dump          — decompile and print the current function")
			fmt.Println("raw           — print the current function's raw instruction list")
			fmt.Println("exit          — leave the REPL")
		case "list":
			if len(current.Nested) == 0 {
				fmt.Println("(no nested functions)")
				break
			}
			for i, n := range current.Nested {
				fmt.Printf("  [%d] %s\n", i, displayName(n))
			}
		case "select":
			if len(cmdline) < 2 {
				fmt.Println("usage: select <n>")
				break
			}
			idx, err := strconv.Atoi(cmdline[1])
			if err != nil || idx < 0 || idx >= len(current.Nested) {
				fmt.Printf("no nested function %s\n", cmdline[1])
				break
			}
			path = append(path, current.Nested[idx])
		case "up":
			if len(path) == 1 {
				fmt.Println("already at the root function")
				break
			}
			path = path[:len(path)-1]
		case "dump":
			source, warnings := emit.RenderFunction(current, opts)
			for _, w := range warnings {
				fmt.Fprintf(os.Stderr, "⚠️  %v\n", w)
			}
			fmt.Print(source)
		case "raw":
			for ip, in := range current.Instructions {
				fmt.Printf("%4d  %s\n", ip, in.Op)
			}
		case "exit", "quit":
			return subcommands.ExitSuccess
		default:
			fmt.Printf("unknown command %q, type 'help'\n", cmdline[0])
		}
	}
}

func displayName(fn *sqfunc.Function) string {
	if fn.Name != "" {
		return fn.Name
	}
	return "<anonymous>"
}

func promptFor(path []*sqfunc.Function) string {
	names := make([]string, len(path))
	for i, fn := range path {
		names[i] = displayName(fn)
	}
	return "nutdump:" + strings.Join(names, "/")
}
