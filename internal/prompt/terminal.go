package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Terminal prompts on a text terminal, for the CLI host. One question is
// asked at a time.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) ChooseFile(ctx context.Context, req FileRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "locate %s", req.ArtifactURI)
	if req.Ext != "" {
		fmt.Fprintf(t.out, " (%s)", req.Ext)
	}
	fmt.Fprint(t.out, ", enter a local path or leave empty to skip: ")

	line, err := t.readLine(ctx)
	if err != nil {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	return line, nil
}

func (t *Terminal) ConfirmDownload(ctx context.Context, host, rawURL string) (Choice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "download %s from %s? [y]es / [n]o / [a]lways: ", rawURL, host)
	line, err := t.readLine(ctx)
	if err != nil {
		if err == io.EOF {
			return No, nil
		}
		return No, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return Yes, nil
	case "a", "always":
		return Always, nil
	default:
		return No, nil
	}
}

func (t *Terminal) ShowError(msg string) {
	t.mu.Lock()
	fmt.Fprintf(t.out, "error: %s\n", msg)
	t.mu.Unlock()
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if r.err != nil && line == "" {
			return "", r.err
		}
		return line, nil
	}
}
