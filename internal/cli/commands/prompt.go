package commands

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"github.com/dashgate-dev/dashgate/internal/session"
)

// Prompter asks the user for credentials
type Prompter interface {
	Username() (string, error)
	Password() (string, error)
}

// terminalPrompter prompts on the controlling terminal
type terminalPrompter struct{}

// Username offers admin and the known manufacturers, plus free entry
func (terminalPrompter) Username() (string, error) {
	const other = "Other..."
	items := append([]string{session.AdminIdentity}, session.KnownManufacturers...)
	items = append(items, other)

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ . | cyan }}",
		Inactive: "  {{ . }}",
		Selected: "{{ . | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select a user",
		Items:     items,
		Templates: templates,
		Size:      10,
	}

	_, choice, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("user selection cancelled: %w", err)
	}
	if choice != other {
		return choice, nil
	}

	input := promptui.Prompt{Label: "Username"}
	username, err := input.Run()
	if err != nil {
		return "", fmt.Errorf("username entry cancelled: %w", err)
	}
	return username, nil
}

func (terminalPrompter) Password() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or DASHGATE_PASSWORD env var)")
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(fd)
	fmt.Println() // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
