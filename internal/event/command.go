package event

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

const DefaultCommandPrefix = "@bors"

type CommandKind string

const (
	CommandApprove    CommandKind = "r+"
	CommandUnapprove  CommandKind = "r-"
	CommandTry        CommandKind = "try"
	CommandTryCancel  CommandKind = "try-cancel"
	CommandPriority   CommandKind = "p"
	CommandRollup     CommandKind = "rollup"
	CommandDelegate   CommandKind = "delegate+"
	CommandUndelegate CommandKind = "delegate-"
	CommandPing       CommandKind = "ping"
	CommandInfo       CommandKind = "info"
)

// Command is a command that was sent as pull request comment.
// Only the fields that belong to Kind are set.
type Command struct {
	Kind CommandKind
	// SHA is the optional commit argument of CommandApprove and CommandTry.
	SHA      string
	Priority int
	Rollup   model.RollupMode
}

func (c *Command) String() string {
	switch c.Kind {
	case CommandPriority:
		return fmt.Sprintf("p=%d", c.Priority)
	case CommandRollup:
		return fmt.Sprintf("rollup=%s", c.Rollup)
	case CommandApprove, CommandTry:
		if c.SHA != "" {
			return fmt.Sprintf("%s sha=%s", c.Kind, c.SHA)
		}
	}

	return string(c.Kind)
}

// ParseCommands parses all commands in a comment body.
// Commands are recognized on lines that start with prefix, e.g.
// "@bors r+ p=2 rollup=never". Lines without the prefix are ignored.
// When a line contains an unknown command or an invalid argument an error
// wrapping borserr.ErrMalformedEvent is returned.
func ParseCommands(prefix, body string) ([]*Command, error) {
	var result []*Command

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		rest, found := cutPrefixFold(line, prefix)
		if !found {
			continue
		}

		// the prefix must be followed by a separator, "@borsbot" is
		// not a command
		if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") && !strings.HasPrefix(rest, ":") {
			continue
		}

		cmds, err := parseCommandLine(strings.TrimPrefix(rest, ":"))
		if err != nil {
			return nil, err
		}

		result = append(result, cmds...)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading comment failed: %w", borserr.ErrMalformedEvent, err)
	}

	return result, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}

	return s[len(prefix):], true
}

func parseCommandLine(line string) ([]*Command, error) {
	var result []*Command

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: command prefix without command", borserr.ErrMalformedEvent)
	}

	for i := 0; i < len(tokens); i++ {
		tok := strings.ToLower(tokens[i])
		key, val, hasVal := strings.Cut(tok, "=")

		switch {
		case tok == "r+" || tok == "approve":
			result = append(result, &Command{Kind: CommandApprove})

		case tok == "r-" || tok == "unapprove":
			result = append(result, &Command{Kind: CommandUnapprove})

		case tok == "try":
			if i+1 < len(tokens) && strings.EqualFold(tokens[i+1], "cancel") {
				i++
				result = append(result, &Command{Kind: CommandTryCancel})
				break
			}

			result = append(result, &Command{Kind: CommandTry})

		case tok == "try-":
			result = append(result, &Command{Kind: CommandTryCancel})

		case tok == "delegate+":
			result = append(result, &Command{Kind: CommandDelegate})

		case tok == "delegate-":
			result = append(result, &Command{Kind: CommandUndelegate})

		case tok == "ping":
			result = append(result, &Command{Kind: CommandPing})

		case tok == "info":
			result = append(result, &Command{Kind: CommandInfo})

		case tok == "rollup":
			result = append(result, &Command{Kind: CommandRollup, Rollup: model.RollupAlways})

		case tok == "rollup-":
			result = append(result, &Command{Kind: CommandRollup, Rollup: model.RollupMaybe})

		case hasVal && key == "rollup":
			mode, err := model.ParseRollupMode(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", borserr.ErrMalformedEvent, err)
			}

			result = append(result, &Command{Kind: CommandRollup, Rollup: mode})

		case hasVal && (key == "p" || key == "priority"):
			// priorities are stored as 32bit integers
			prio, err := strconv.ParseInt(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: priority %q is not a number in the range %d..%d",
					borserr.ErrMalformedEvent, val, math.MinInt32, math.MaxInt32)
			}

			result = append(result, &Command{Kind: CommandPriority, Priority: int(prio)})

		case hasVal && key == "sha":
			if len(result) == 0 {
				return nil, fmt.Errorf("%w: sha argument without command", borserr.ErrMalformedEvent)
			}

			last := result[len(result)-1]
			if last.Kind != CommandApprove && last.Kind != CommandTry {
				return nil, fmt.Errorf("%w: sha argument is not supported by command %q", borserr.ErrMalformedEvent, last.Kind)
			}

			if val == "" {
				return nil, fmt.Errorf("%w: sha argument is empty", borserr.ErrMalformedEvent)
			}

			// the original case is kept, only the key is case-insensitive
			_, last.SHA, _ = strings.Cut(tokens[i], "=")

		default:
			return nil, fmt.Errorf("%w: unknown command %q", borserr.ErrMalformedEvent, tokens[i])
		}
	}

	return result, nil
}
