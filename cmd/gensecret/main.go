package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const SecretKeyBytesLen = 32

// Keys the service needs a secret for
var secretKeys = []string{"SECRET_KEY", "SIGNATURE_SECRET"}

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// Print one hex secret, or with --env a fresh secret per key in .env format
func run(w io.Writer, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "n", SecretKeyBytesLen, "Secret length in bytes")
	env := fs.Bool("env", false, "Print secrets for every key as .env lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *size < 16 {
		return fmt.Errorf("secret of %d bytes is too short, use 16 or more", *size)
	}

	if !*env {
		secret, err := newSecret(*size)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, secret)
		return err
	}

	for _, key := range secretKeys {
		secret, err := newSecret(*size)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, secret); err != nil {
			return err
		}
	}
	return nil
}

func newSecret(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
