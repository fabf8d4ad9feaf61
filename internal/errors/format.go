package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// detailWidth is the column at which Detail text is wrapped.
const detailWidth = 70

type style string

const (
	styleReset style = "\033[0m"
	styleBold  style = "\033[1m"
	styleRed   style = "\033[31m"
	styleBlue  style = "\033[34m"
	styleCyan  style = "\033[36m"
	styleGray  style = "\033[90m"
)

var colors = true

// DisableColors turns off ANSI styling in Format and FprintError.
func DisableColors() { colors = false }

// EnableColors turns ANSI styling back on.
func EnableColors() { colors = true }

func paint(text string, styles ...style) string {
	if !colors || len(styles) == 0 {
		return text
	}
	var b strings.Builder
	for _, s := range styles {
		b.WriteString(string(s))
	}
	b.WriteString(text)
	b.WriteString(string(styleReset))
	return b.String()
}

// Format renders the error for a terminal:
//
//	ERROR T601: Invalid configuration
//
//	  Port must be between 0 and 65535
//
//	  Hint: Check tether.json or tether.yaml
//	  Learn more: https://...
func (e *TetherError) Format() string {
	var b strings.Builder

	head := "ERROR: "
	if e.Code != "" {
		head = "ERROR " + e.Code + ": "
	}
	fmt.Fprintf(&b, "\n%s%s\n\n", paint(head, styleBold, styleRed), paint(e.Message, styleBold))

	if lines := wrapText(e.Detail, detailWidth); len(lines) > 0 {
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n", paint("Hint: ", styleCyan), e.Suggestion)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", paint("Learn more: ", styleGray), paint(e.DocURL, styleBlue))
	}
	return b.String()
}

// FormatJSON renders the error as one JSON object.
func (e *TetherError) FormatJSON() string {
	data, err := json.Marshal(struct {
		Code       string   `json:"code,omitempty"`
		Category   Category `json:"category"`
		Message    string   `json:"message"`
		Detail     string   `json:"detail,omitempty"`
		Suggestion string   `json:"suggestion,omitempty"`
		DocURL     string   `json:"docUrl,omitempty"`
	}{e.Code, e.Category, e.Message, e.Detail, e.Suggestion, e.DocURL})
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Message)
	}
	return string(data)
}

// wrapText splits text into lines of at most width columns, breaking on
// whitespace. Words longer than width get a line of their own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	lines := []string{words[0]}
	for _, word := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(word) > width {
			lines = append(lines, word)
			continue
		}
		*last += " " + word
	}
	return lines
}

// PrintError writes err to stderr, see FprintError.
func PrintError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError writes err to w. A *TetherError anywhere in the chain is
// rendered with Format; other errors get a plain banner.
func FprintError(w io.Writer, err error) {
	var te *TetherError
	if stderrors.As(err, &te) {
		io.WriteString(w, te.Format())
		return
	}
	fmt.Fprintf(w, "\n%s%s\n\n", paint("ERROR: ", styleBold, styleRed), err.Error())
}
