package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptIO supplies the prompt and receives generated text.
type PromptIO interface {
	Prompt() (string, error)
	// Emit is called once per generated token with its decoded text.
	Emit(token string) error
	// Finish is called once with the whole continuation.
	Finish(continuation string) error
}

const promptText = "Please enter a prompt: "

// ConsoleIO streams tokens to Out as they are generated. When Preset is
// empty the prompt is read as one line from In, with a question printed
// first if In is a terminal.
type ConsoleIO struct {
	In     io.Reader
	Out    io.Writer
	Preset string
}

func NewConsoleIO(prompt string) *ConsoleIO {
	return &ConsoleIO{In: os.Stdin, Out: os.Stdout, Preset: prompt}
}

func (c *ConsoleIO) Prompt() (string, error) {
	if c.Preset != "" {
		return c.Preset, nil
	}
	if f, ok := c.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if _, err := io.WriteString(c.Out, promptText); err != nil {
			return "", err
		}
	}
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty prompt")
	}
	return line, nil
}

func (c *ConsoleIO) Emit(token string) error {
	_, err := io.WriteString(c.Out, token)
	return err
}

func (c *ConsoleIO) Finish(string) error {
	_, err := fmt.Fprintln(c.Out)
	return err
}

// BufferIO is an in-memory PromptIO.
type BufferIO struct {
	Input        string
	Tokens       []string
	Continuation string
	Finished     bool
}

func (b *BufferIO) Prompt() (string, error) { return b.Input, nil }

func (b *BufferIO) Emit(token string) error {
	b.Tokens = append(b.Tokens, token)
	return nil
}

func (b *BufferIO) Finish(continuation string) error {
	b.Continuation = continuation
	b.Finished = true
	return nil
}
