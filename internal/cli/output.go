package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/coordinator"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // The command ran and failed (change set error, checksum mismatch, ...).
	ExitCommandError = 2 // The command could not start (configuration, change log, flags).
	ExitLockTimeout  = 3 // Another process held the change log lock for the whole wait.
)

// ExitError is an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var timeout *docledger.LockTimeoutError
	if errors.As(err, &timeout) {
		return ExitLockTimeout
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

type outcomeView struct {
	ChangeSet string  `json:"changeSet"`
	Action    string  `json:"action"`
	Seconds   float64 `json:"seconds"`
	Error     string  `json:"error,omitempty"`
}

type resultView struct {
	DeploymentID string        `json:"deploymentId,omitempty"`
	Outcomes     []outcomeView `json:"outcomes"`
}

func newResultView(r coordinator.Result) resultView {
	view := resultView{DeploymentID: r.DeploymentID, Outcomes: []outcomeView{}}
	for _, o := range r.Outcomes {
		ov := outcomeView{ChangeSet: o.ChangeSet, Action: string(o.Action), Seconds: o.Duration.Seconds()}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		view.Outcomes = append(view.Outcomes, ov)
	}
	return view
}

// printer writes command results in the selected format.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

func (p *printer) json() bool {
	return p.format == "json"
}

func (p *printer) writeJSON(data interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{Status: "ok", Data: data})
}

// Result prints the outcomes of a command that touched change sets.
func (p *printer) Result(verb string, r coordinator.Result) error {
	if p.json() {
		return p.writeJSON(newResultView(r))
	}
	if len(r.Outcomes) == 0 {
		_, err := fmt.Fprintf(p.w, "Nothing to %s.\n", verb)
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%s\t%s\t%s", o.Action, o.ChangeSet, o.Duration.Round(time.Millisecond))
		if o.Err != nil {
			line += "\t" + o.Err.Error()
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.w, "%d change set(s) processed, deployment %s\n", len(r.Outcomes), r.DeploymentID)
	return err
}

type changeSetView struct {
	ChangeSet   string `json:"changeSet"`
	Description string `json:"description"`
}

// Pending prints the change sets that have not been applied.
func (p *printer) Pending(sets []docledger.ChangeSet) error {
	if p.json() {
		views := make([]changeSetView, 0, len(sets))
		for _, cs := range sets {
			views = append(views, changeSetView{ChangeSet: cs.Identifier(), Description: cs.Description})
		}
		return p.writeJSON(views)
	}
	if _, err := fmt.Fprintf(p.w, "%d change set(s) have not been applied\n", len(sets)); err != nil {
		return err
	}
	for _, cs := range sets {
		if _, err := fmt.Fprintf(p.w, "  %s\n", cs.Identifier()); err != nil {
			return err
		}
	}
	return nil
}

// History prints ledger entries in execution order.
func (p *printer) History(entries []docledger.LedgerEntry) error {
	if p.json() {
		if entries == nil {
			entries = []docledger.LedgerEntry{}
		}
		return p.writeJSON(entries)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tEXECUTED\tTYPE\tCHANGE SET\tTAG\tDEPLOYMENT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s::%s::%s\t%s\t%s\n",
			e.OrderExecuted, e.ExecutedAt.UTC().Format(time.RFC3339), e.ExecType,
			e.ChangeLogPath, e.ID, e.Author, e.Tag, e.DeploymentID)
	}
	return tw.Flush()
}

// Locks prints the lock records.
func (p *printer) Locks(locks []docledger.LockRecord) error {
	if p.json() {
		if locks == nil {
			locks = []docledger.LockRecord{}
		}
		return p.writeJSON(locks)
	}
	if len(locks) == 0 {
		_, err := fmt.Fprintln(p.w, "The change log is not locked.")
		return err
	}
	for _, l := range locks {
		if _, err := fmt.Fprintf(p.w, "Locked by %s since %s\n", l.LockedBy, l.GrantedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}

// Message prints a one line confirmation.
func (p *printer) Message(msg string) error {
	if p.json() {
		return p.writeJSON(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

// Value prints a named value, such as the answer to tag-exists.
func (p *printer) Value(name string, value interface{}) error {
	if p.json() {
		return p.writeJSON(map[string]interface{}{name: value})
	}
	_, err := fmt.Fprintf(p.w, "%v\n", value)
	return err
}
