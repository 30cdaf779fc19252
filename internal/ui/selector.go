package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/notexe/notekeeper/internal/reminder"
)

// ErrCancelled is returned when the user aborts a selection.
var ErrCancelled = errors.New("cancelled")

// SelectorOption is one entry in a Selector.
type SelectorOption struct {
	Label       string
	Description string
}

// Selector is an arrow-key navigable single-choice menu. When stdin is not
// a terminal it falls back to a numbered prompt.
type Selector struct {
	question string
	options  []SelectorOption
	selected int
	colored  bool

	in  io.Reader
	out io.Writer

	cursorStyle   lipgloss.Style
	selectedStyle lipgloss.Style
	optionStyle   lipgloss.Style
	questionStyle lipgloss.Style
	hintStyle     lipgloss.Style
}

func NewSelector(question string, options []SelectorOption, colored bool) *Selector {
	return &Selector{
		question: question,
		options:  options,
		colored:  colored,
		in:       os.Stdin,
		out:      os.Stdout,

		cursorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		selectedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),
		optionStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		questionStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
		hintStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
	}
}

// NewStatusSelector offers the three reminder statuses, with the current
// one preselected.
func NewStatusSelector(current reminder.Status, colored bool) *Selector {
	options := []SelectorOption{
		{Label: string(reminder.StatusPending), Description: "waiting for its due time"},
		{Label: string(reminder.StatusCompleted), Description: "done"},
		{Label: string(reminder.StatusMissed), Description: "due time passed without action"},
	}
	s := NewSelector("Set status", options, colored)
	for i, o := range options {
		if o.Label == string(current) {
			s.selected = i
		}
	}
	return s
}

// WithIO replaces stdin/stdout; the numbered prompt is always used then.
func (s *Selector) WithIO(in io.Reader, out io.Writer) *Selector {
	s.in = in
	s.out = out
	return s
}

// Run displays the menu and returns the chosen label.
func (s *Selector) Run() (string, error) {
	if len(s.options) == 0 {
		return "", errors.New("no options")
	}

	f, ok := s.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return s.runSimple()
	}
	fd := int(f.Fd())

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return s.runSimple()
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprint(s.out, "\033[?25h")
	}()
	fmt.Fprint(s.out, "\033[?25l")

	totalLines := len(s.options) + 3
	s.printMenu()

	reader := bufio.NewReader(f)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}

		chosen := false
		switch b {
		case 13, 10, ' ':
			chosen = true
		case 3, 'q': // Ctrl+C
			s.clearMenu(totalLines)
			return "", ErrCancelled
		case 'j':
			s.moveDown()
		case 'k':
			s.moveUp()
		case 27:
			b2, _ := reader.ReadByte()
			if b2 == '[' {
				b3, _ := reader.ReadByte()
				switch b3 {
				case 'A':
					s.moveUp()
				case 'B':
					s.moveDown()
				}
			}
		default:
			if b >= '1' && b <= '9' && int(b-'1') < len(s.options) {
				s.selected = int(b - '1')
				chosen = true
			}
		}

		s.clearMenu(totalLines)
		if chosen {
			return s.options[s.selected].Label, nil
		}
		s.printMenu()
	}
}

func (s *Selector) render(style lipgloss.Style, text string) string {
	if s.colored {
		return style.Render(text)
	}
	return text
}

func (s *Selector) printMenu() {
	var sb strings.Builder
	sb.WriteString(s.render(s.questionStyle, s.question))
	sb.WriteString("\r\n")
	sb.WriteString(s.render(s.hintStyle, "[j/k or arrows] move  [enter] select  [q] cancel"))
	sb.WriteString("\r\n\r\n")

	for i, opt := range s.options {
		label := opt.Label
		if opt.Description != "" {
			label += " - " + opt.Description
		}
		if i == s.selected {
			sb.WriteString(s.render(s.cursorStyle, "> "))
			sb.WriteString(s.render(s.selectedStyle, label))
		} else {
			sb.WriteString("  ")
			sb.WriteString(s.render(s.optionStyle, label))
		}
		sb.WriteString("\r\n")
	}
	fmt.Fprint(s.out, sb.String())
}

func (s *Selector) clearMenu(lines int) {
	for i := 0; i < lines; i++ {
		fmt.Fprint(s.out, "\033[A\033[2K\r")
	}
}

// runSimple reads a number from a line of input. An empty line keeps the
// preselected option.
func (s *Selector) runSimple() (string, error) {
	fmt.Fprintln(s.out, s.question)
	for i, opt := range s.options {
		label := opt.Label
		if opt.Description != "" {
			label += " - " + opt.Description
		}
		fmt.Fprintf(s.out, "  [%d] %s\n", i+1, label)
	}
	fmt.Fprintf(s.out, "Enter number [%d]: ", s.selected+1)

	line, err := bufio.NewReader(s.in).ReadString('\n')
	if err != nil && line == "" {
		return "", ErrCancelled
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return s.options[s.selected].Label, nil
	}

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(s.options) {
		return "", fmt.Errorf("invalid choice %q", line)
	}
	return s.options[n-1].Label, nil
}

func (s *Selector) moveUp() {
	if s.selected > 0 {
		s.selected--
	} else {
		s.selected = len(s.options) - 1
	}
}

func (s *Selector) moveDown() {
	if s.selected < len(s.options)-1 {
		s.selected++
	} else {
		s.selected = 0
	}
}
