package session

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// LoginPrompter supplies the interactive answers a login flow needs:
// verification codes, 2FA passwords, and similar one-time inputs.
type LoginPrompter interface {
	// Prompt asks for a visible value.
	Prompt(label string) (string, error)

	// PromptSecret asks for a value without echoing it.
	PromptSecret(label string) (string, error)
}

// TerminalPrompter reads answers from stdin, hiding secrets when
// attached to a real terminal.
type TerminalPrompter struct {
	reader *bufio.Reader
}

// NewTerminalPrompter creates a prompter over os.Stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{reader: bufio.NewReader(os.Stdin)}
}

// Prompt asks for a visible value
func (t *TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Printf("%s: ", label)
	input, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// PromptSecret asks for a value without echoing when possible
func (t *TerminalPrompter) PromptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)

	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(secret), nil
		}
	}

	// Fallback to regular input
	input, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// StaticPrompter answers prompts from a fixed map, for tests and
// non-interactive runs. Missing labels are an error so flows cannot
// silently hang on unexpected questions.
type StaticPrompter struct {
	Answers map[string]string
}

// Prompt returns the canned answer for the label
func (s *StaticPrompter) Prompt(label string) (string, error) {
	answer, ok := s.Answers[label]
	if !ok {
		return "", fmt.Errorf("no answer configured for prompt %q", label)
	}
	return answer, nil
}

// PromptSecret returns the canned answer for the label
func (s *StaticPrompter) PromptSecret(label string) (string, error) {
	return s.Prompt(label)
}
