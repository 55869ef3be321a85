package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/state"
	"golang.org/x/term"
)

func newConfigureCmd() *cobra.Command {
	var (
		stateFile   string
		cookiesFile string
		nickname    string
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Save bot credentials to the state file",
		Long:  "Reads a JSON array of cookies from --cookies-file, the terminal (hidden input) or stdin, and writes it to the state file so serve can resume without the dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, stateFile, cookiesFile, nickname)
		},
	}

	cmd.Flags().StringVarP(&stateFile, "state-file", "s", "config.json", "path to the state file")
	cmd.Flags().StringVar(&cookiesFile, "cookies-file", "", "read cookies from this file instead of stdin")
	cmd.Flags().StringVar(&nickname, "nickname", "", "also set the saved bot nickname")
	return cmd
}

func runConfigure(cmd *cobra.Command, stateFile, cookiesFile, nickname string) error {
	raw, err := readCookies(cmd, cookiesFile)
	if err != nil {
		return err
	}
	creds, err := client.ParseCredentials(raw)
	if err != nil {
		return err
	}

	store := state.NewFileStore(stateFile)
	snap, _, err := store.Load()
	if err != nil {
		return err
	}
	snap.Cookies = creds
	if nickname != "" {
		snap.BotNickname = nickname
	}
	if err := store.Save(snap); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d cookies to %s\n", len(creds), store.Path())
	return nil
}

// readCookies returns the cookie JSON from path, a hidden terminal prompt or
// the command's input.
func readCookies(cmd *cobra.Command, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read cookies: %w", err)
		}
		return string(data), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Paste cookies JSON (input hidden): ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read cookies: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(bufio.NewReader(in))
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("read cookies: no input")
	}
	return string(data), nil
}
