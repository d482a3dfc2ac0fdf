// Package core parses the chat command text users send to the bot.
package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// Command is a parsed chat command. Name is lowercase without the leading
// slash or bot mention. Rest is the raw text after the name.
type Command struct {
	Name string
	Args []string
	Rest string
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Require fails with a usage error unless at least n arguments are present.
func (c *Command) Require(n int, usage string) error {
	if len(c.Args) < n {
		return &ValidationError{Arg: "/" + c.Name, Cause: "usage: " + usage}
	}
	return nil
}

var (
	getShortcut = regexp.MustCompile(`^/get_([a-zA-Z0-9]+)(?:@\w+)?$`)
	deepLink    = regexp.MustCompile(`get_([a-zA-Z0-9]+)`)
)

// ParseCommand parses "/name[@bot] args...". The retrieval shortcuts
// "/get_<code>" and "/start get_<code>" both become a "get" command with the
// code as its only argument.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return nil, &ValidationError{Arg: text, Cause: "not a command"}
	}

	if m := getShortcut.FindStringSubmatch(text); m != nil {
		return &Command{Name: "get", Args: []string{m[1]}, Rest: m[1]}, nil
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	if name == "" {
		return nil, &ValidationError{Arg: text, Cause: "not a command"}
	}
	rest = strings.TrimSpace(rest)

	cmd := &Command{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		Rest: rest,
	}

	if cmd.Name == "start" {
		if m := deepLink.FindStringSubmatch(rest); m != nil {
			return &Command{Name: "get", Args: []string{m[1]}, Rest: m[1]}, nil
		}
	}
	return cmd, nil
}

// ParseUserID parses a numeric platform user id.
func ParseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ValidationError{Arg: s, Cause: "not a numeric user id"}
	}
	return id, nil
}
