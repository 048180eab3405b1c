// Command ssohash prints bcrypt hashes for the broker registry file: user
// passwordHash and application credentialHash values.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/ebellera/SSO/pkg/platform/secrets"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cost int
	var generate bool

	flagSet := pflag.NewFlagSet("ssohash", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	flagSet.BoolVar(&generate, "generate", false, "mint a new application credential and print it with its hash")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  ssohash [flags]          read a secret from stdin and print its hash\n  ssohash --generate       print a new credential and its hash\n\nFlags:\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("--cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	var secret string
	if generate {
		credential, err := secrets.Generate()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "credential: %s\n", credential)
		secret = credential
	} else {
		s, err := readSecret(stdin, stderr)
		if err != nil {
			return err
		}
		secret = s
	}

	hash, err := secrets.Hash(secret, cost)
	if err != nil {
		return err
	}
	if generate {
		fmt.Fprintf(stdout, "credentialHash: %s\n", hash)
		return nil
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

// readSecret prompts without echo on a terminal, otherwise reads one line.
func readSecret(stdin io.Reader, stderr io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, "secret: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret on stdin")
	}
	return line, nil
}
