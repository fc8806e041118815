package setup

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptYesNo asks msg on out and reads one answer line from in.
func PromptYesNo(in io.Reader, out io.Writer, msg string) (bool, error) {
	if _, err := fmt.Fprint(out, msg); err != nil {
		return false, err
	}
	r := bufio.NewReader(in)
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, err
	}
	s := strings.TrimSpace(strings.ToLower(line))
	return s == "y" || s == "yes", nil
}
