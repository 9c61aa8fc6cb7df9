package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// shellOps is the command surface the shell dispatches to. The real App
// satisfies it; tests can provide a stub.
type shellOps interface {
	isLoggedIn() bool
	Login(ctx context.Context, email string) error
	Register(ctx context.Context, email string) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	List(ctx context.Context) error
	Add(ctx context.Context, title, description string) error
	Edit(ctx context.Context, id, title, description string) error
	Complete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// runShell reads commands line by line and dispatches them until EOF, exit,
// or context cancellation. Command errors are printed, never fatal: the
// shell stays up so the user can log in again after a session teardown.
//
// The reader must be the same one the command implementations prompt from,
// so scripted or piped input stays in sync between shell commands and
// in-command confirmations.
func runShell(ctx context.Context, ops shellOps, prompt func() string, reader *bufio.Reader, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(out, prompt())
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if strings.TrimSpace(line) != "" {
					// Run the final unterminated line before exiting
					runLine(ctx, ops, line, out)
				}
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		if exit := runLine(ctx, ops, line, out); exit {
			return nil
		}
	}
}

// runLine parses and dispatches one input line, reporting whether the shell
// should exit
func runLine(ctx context.Context, ops shellOps, line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := parts[0], parts[1:]

	if cmd == "exit" || cmd == "quit" {
		fmt.Fprintln(out, "Bye!")
		return true
	}

	if err := dispatch(ctx, ops, cmd, args, out); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return false
}

func dispatch(ctx context.Context, ops shellOps, cmd string, args []string, out io.Writer) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "help":
		printHelp(ops, out)
		return nil
	case "login":
		return ops.Login(ctx, arg(0))
	case "register":
		return ops.Register(ctx, arg(0))
	case "logout":
		return ops.Logout(ctx)
	case "whoami":
		return ops.Whoami(ctx)
	case "l", "list":
		return ops.List(ctx)
	case "add":
		description := ""
		if len(args) > 1 {
			description = strings.Join(args[1:], " ")
		}
		return ops.Add(ctx, arg(0), description)
	case "edit":
		description := ""
		if len(args) > 2 {
			description = strings.Join(args[2:], " ")
		}
		return ops.Edit(ctx, arg(0), arg(1), description)
	case "complete", "done":
		return ops.Complete(ctx, arg(0))
	case "delete", "rm":
		return ops.Delete(ctx, arg(0))
	default:
		return fmt.Errorf("unknown command '%s' (try 'help')", cmd)
	}
}

func printHelp(ops shellOps, out io.Writer) {
	if ops.isLoggedIn() {
		fmt.Fprintln(out, "Available commands: (l)ist, add <title> [description], edit <id> <title> [description], complete <id>, delete <id>, whoami, logout, exit")
	} else {
		fmt.Fprintln(out, "Available commands: login [email], register [email], whoami, exit")
	}
}
