// Copyright 2026 The NetReaper Authors
// SPDX-License-Identifier: Apache-2.0

// Reaper-call is the operator client for the NetReaper gateway. It
// authenticates, submits one command, streams the redacted output to
// the local terminal, and exits with the remote command's exit code.
//
// An interrupt (Ctrl-C) cancels the remote job rather than abandoning
// it: the gateway SIGTERMs the whole process group and reports the
// cancellation before reaper-call exits.
package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/netreaper-project/gateway/gateway"
	"github.com/netreaper-project/gateway/lib/secret"
	"github.com/netreaper-project/gateway/lib/version"
	"github.com/netreaper-project/gateway/supervisor"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	var address string
	var subject string
	var passwordFile string
	var workingDirectory string
	var useTLS bool
	var insecure bool
	var showVersion bool

	pflag.StringVarP(&address, "address", "a", "127.0.0.1:7677", "gateway address")
	pflag.StringVarP(&subject, "subject", "s", "", "operator name (defaults to the local username)")
	pflag.StringVar(&passwordFile, "password-file", "", "read the password from this file ('-' for stdin) instead of prompting")
	pflag.StringVarP(&workingDirectory, "workdir", "w", "", "working directory for the remote command")
	pflag.BoolVar(&useTLS, "tls", false, "connect with TLS")
	pflag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("reaper-call %s\n", version.Info())
		return 0, nil
	}

	argv := pflag.Args()
	if len(argv) == 0 {
		return 0, fmt.Errorf("no command given; usage: reaper-call [flags] -- program args...")
	}

	if subject == "" {
		current, err := user.Current()
		if err != nil {
			return 0, fmt.Errorf("no --subject and no local username: %w", err)
		}
		subject = current.Username
	}

	password, err := readPassword(passwordFile)
	if err != nil {
		return 0, err
	}

	conn, err := dial(address, useTLS, insecure)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := authenticate(conn, subject, password); err != nil {
		return 0, err
	}

	request, err := gateway.NewMessage(gateway.MessageTypeCommand, gateway.CommandRequest{
		Argv:             argv,
		WorkingDirectory: workingDirectory,
	})
	if err != nil {
		return 0, err
	}
	if err := gateway.WriteMessage(conn, request); err != nil {
		return 0, fmt.Errorf("sending command: %w", err)
	}

	// First interrupt cancels the remote job; a second one gives up
	// on the connection entirely.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		cancel, err := gateway.NewMessage(gateway.MessageTypeCancel, gateway.CancelRequest{})
		if err == nil {
			gateway.WriteMessage(conn, cancel)
		}
		<-interrupts
		conn.Close()
	}()

	return stream(conn)
}

// readPassword resolves the operator password: from a file, or by
// prompting when stdin is a terminal. Returns empty for loopback
// gateways that run without a password.
func readPassword(passwordFile string) (string, error) {
	if passwordFile != "" {
		buffer, err := secret.ReadFromPath(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		defer buffer.Close()
		return string(buffer.Bytes()), nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Password (empty for none): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func dial(address string, useTLS, insecure bool) (net.Conn, error) {
	if !useTLS {
		conn, err := net.Dial("tcp", address)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", address, err)
		}
		return conn, nil
	}

	conn, err := tls.Dial("tcp", address, &tls.Config{
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s with TLS: %w", address, err)
	}
	return conn, nil
}

func authenticate(conn net.Conn, subject, password string) error {
	request, err := gateway.NewMessage(gateway.MessageTypeAuth, gateway.AuthRequest{
		Subject:  subject,
		Password: password,
	})
	if err != nil {
		return err
	}
	if err := gateway.WriteMessage(conn, request); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	message, err := gateway.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	if message.Type != gateway.MessageTypeAuthResult {
		return fmt.Errorf("unexpected response type 0x%02x to auth", message.Type)
	}

	var result gateway.AuthResult
	if err := json.Unmarshal(message.Payload, &result); err != nil {
		return fmt.Errorf("decoding auth result: %w", err)
	}
	if !result.OK {
		if result.RetryAfterSeconds > 0 {
			return fmt.Errorf("%s (retry in %ds)", result.Error, result.RetryAfterSeconds)
		}
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

// stream prints job output until the exit message and returns the
// remote exit code.
func stream(conn net.Conn) (int, error) {
	for {
		message, err := gateway.ReadMessage(conn)
		if err != nil {
			return 0, fmt.Errorf("connection lost: %w", err)
		}

		switch message.Type {
		case gateway.MessageTypeOutput:
			var chunk gateway.OutputChunk
			if err := json.Unmarshal(message.Payload, &chunk); err != nil {
				return 0, fmt.Errorf("decoding output: %w", err)
			}
			if chunk.Stream == supervisor.EventStderr {
				fmt.Fprintln(os.Stderr, chunk.Text)
			} else {
				fmt.Println(chunk.Text)
			}

		case gateway.MessageTypeExit:
			var exit gateway.ExitResult
			if err := json.Unmarshal(message.Payload, &exit); err != nil {
				return 0, fmt.Errorf("decoding exit: %w", err)
			}
			switch exit.Reason {
			case supervisor.ReasonCompleted:
			case supervisor.ReasonCancelled:
				fmt.Fprintln(os.Stderr, "job cancelled")
			case supervisor.ReasonTimeout:
				fmt.Fprintln(os.Stderr, "job timed out")
			default:
				fmt.Fprintf(os.Stderr, "job failed: %s\n", exit.Error)
			}
			if exit.Code < 0 {
				return 1, nil
			}
			return exit.Code, nil

		case gateway.MessageTypeError:
			var errorMessage gateway.ErrorMessage
			if err := json.Unmarshal(message.Payload, &errorMessage); err != nil {
				return 0, fmt.Errorf("decoding error message: %w", err)
			}
			if errorMessage.Fatal {
				return 0, fmt.Errorf("gateway: %s: %s", errorMessage.Code, errorMessage.Detail)
			}
			return 1, fmt.Errorf("command rejected (%s): %s", errorMessage.Code, errorMessage.Detail)

		default:
			return 0, fmt.Errorf("unexpected message type 0x%02x", message.Type)
		}
	}
}
