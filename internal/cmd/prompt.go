package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalDecider answers confirmation points and secret prompts on the
// controlling terminal.
type terminalDecider struct{}

func (terminalDecider) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	return readYes()
}

func (terminalDecider) Password(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func (terminalDecider) CommitMessage() (string, bool) {
	fmt.Print("Commit changes? Enter a message (empty to skip): ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	msg := strings.TrimSpace(line)
	if msg == "" {
		return "", false
	}
	return msg, true
}

func (terminalDecider) ConfirmPush() bool {
	fmt.Print("Push to the remote? [y/N]: ")
	return readYes()
}

func readYes() bool {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
