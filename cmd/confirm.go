package cmd

import (
	"bufio"
	"fmt"
	"strings"
)

type (
	confirmAction interface {
		action() string
	}
	command string
)

func (a command) action() string {
	return string(a)
}

// confirm asks on stdout and reads the answer from in. force skips the
// question.
func confirm(c confirmAction, force ...bool) bool {
	if len(force) != 0 && force[0] {
		return true
	}
	fmt.Fprintf(out, "Are you sure you want to %s? (yes/no): ", c.action())
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y", "true", "1":
		return true
	default:
		fmt.Fprintf(out, "Cancelled %s\n", c.action())
		return false
	}
}
