package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/reportgraph/pkg/research"
)

func newChatCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the research agent in the terminal",
		Long: `chat runs a session in the terminal. When the agent proposes an outline
you are asked to approve each section before it continues.

Commands: /report prints the report so far, /retry repeats a failed round,
/quit leaves.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := wire(cmd.Context(), a.settings, a.logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if sessionID == "" {
				sessionID = research.NewSessionID()
			}
			c := newChat(rt.driver, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to continue (default: a new one)")
	return cmd
}

// chat is the terminal front end of one session.
type chat struct {
	driver  *research.Driver
	session string
	in      *bufio.Scanner
	out     io.Writer
}

func newChat(d *research.Driver, sessionID string, in io.Reader, out io.Writer) *chat {
	return &chat{driver: d, session: sessionID, in: bufio.NewScanner(in), out: out}
}

func (c *chat) run(ctx context.Context) error {
	fmt.Fprintf(c.out, "session %s\n", c.session)

	// A session suspended before a restart goes straight to review.
	if res, err := c.driver.Result(ctx, c.session); err == nil && res.Suspended() {
		if err := c.review(ctx, res); err != nil {
			return err
		}
	}

	for {
		line, ok := c.prompt("you> ")
		if !ok {
			return c.in.Err()
		}

		var (
			res research.Result
			err error
		)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/report":
			state, _, err := c.driver.Snapshot(ctx, c.session)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(c.out, research.Markdown(state))
			continue
		case "/retry":
			res, err = c.driver.Retry(ctx, c.session)
		default:
			res, err = c.driver.Send(ctx, c.session, research.HumanMessage(line))
		}
		if err := c.handle(ctx, res, err); err != nil {
			return err
		}
	}
}

// handle prints the outcome of a round and runs the review when the
// session suspended. Only input errors end the chat.
func (c *chat) handle(ctx context.Context, res research.Result, err error) error {
	if err != nil {
		if res.Err != "" {
			fmt.Fprintf(c.out, "error: %s (type /retry to try again)\n", res.Err)
		} else {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		return nil
	}
	if res.Suspended() {
		return c.review(ctx, res)
	}
	c.printReply(res)
	return nil
}

// review asks the operator about every proposed section and resumes the
// session with the answers until it no longer waits for a review.
func (c *chat) review(ctx context.Context, res research.Result) error {
	for res.Suspended() {
		p := res.State.Proposal
		if p == nil || len(p.Sections) == 0 {
			fmt.Fprintln(c.out, "The agent is waiting for a review but has no outline to show.")
			p = &research.Proposal{Sections: map[string]research.ProposalSection{}}
		}

		fmt.Fprintln(c.out, "\nProposed outline:")
		answer := research.Proposal{Sections: make(map[string]research.ProposalSection, len(p.Sections))}
		for _, id := range p.SortedIDs() {
			sec := p.Sections[id]
			fmt.Fprintf(c.out, "  %s. %s\n     %s\n", id, sec.Title, sec.Description)
			line, ok := c.prompt(fmt.Sprintf("  approve section %s? [Y/n] ", id))
			if !ok {
				return c.inputEnded()
			}
			sec.Approved = line == "" || strings.HasPrefix(strings.ToLower(line), "y")
			answer.Sections[id] = sec
			answer.Approved = answer.Approved || sec.Approved
		}
		remarks, ok := c.prompt("remarks (optional)> ")
		if !ok {
			return c.inputEnded()
		}
		answer.Remarks = remarks

		body, err := json.Marshal(answer)
		if err != nil {
			return err
		}
		next, err := c.driver.Resume(ctx, c.session, research.Message{
			Role:       research.RoleTool,
			Name:       research.ReviewActionName,
			Content:    string(body),
			ToolCallID: res.PendingCallID,
		})
		if err != nil {
			var verr *research.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintf(c.out, "error: %v\n", err)
				continue
			}
			return c.handle(ctx, next, err)
		}
		res = next
	}
	c.printReply(res)
	return nil
}

func (c *chat) printReply(res research.Result) {
	if res.Reply != "" {
		fmt.Fprintf(c.out, "agent> %s\n", res.Reply)
	}
}

func (c *chat) prompt(label string) (string, bool) {
	fmt.Fprint(c.out, label)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *chat) inputEnded() error {
	if err := c.in.Err(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "\ninput closed; the session stays suspended")
	return nil
}
