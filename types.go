package docledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LockRecordID is the document key of the lock record. There is at most one
// lock record per lock collection, so creating a document with this key acts
// as an atomic test-and-set.
const LockRecordID = "1"

// DefaultBaseName is the base collection name used when none is configured.
const DefaultBaseName = "databasechangelog"

// LockRecord is the singleton document that grants the change log lock.
type LockRecord struct {
	// ID is always LockRecordID.
	ID string `json:"id"`

	// GrantedAt is when the lock was acquired.
	GrantedAt time.Time `json:"grantedAt"`

	// LockedBy identifies the holder (host name, optional description and IP).
	LockedBy string `json:"lockedBy"`
}

// ExecType describes how a change set was recorded in the ledger.
type ExecType string

const (
	// ExecTypeExecuted indicates the change set ran successfully.
	ExecTypeExecuted ExecType = "EXECUTED"

	// ExecTypeFailed indicates the change set failed but was allowed to continue.
	ExecTypeFailed ExecType = "FAILED"

	// ExecTypeSkipped indicates the change set was skipped.
	ExecTypeSkipped ExecType = "SKIPPED"

	// ExecTypeReran indicates an already executed change set ran again.
	ExecTypeReran ExecType = "RERAN"

	// ExecTypeMarkRan indicates the change set was recorded without running.
	ExecTypeMarkRan ExecType = "MARK_RAN"
)

// ParseExecType converts a string into an ExecType.
func ParseExecType(s string) (ExecType, error) {
	switch et := ExecType(strings.ToUpper(strings.TrimSpace(s))); et {
	case ExecTypeExecuted, ExecTypeFailed, ExecTypeSkipped, ExecTypeReran, ExecTypeMarkRan:
		return et, nil
	default:
		return "", fmt.Errorf("unknown exec type %q", s)
	}
}

// CheckSum is a versioned content hash of a change set definition.
type CheckSum struct {
	Version int    `json:"version"`
	Hash    string `json:"hash"`
}

// String renders the checksum as "<version>:<hash>".
func (c CheckSum) String() string {
	return fmt.Sprintf("%d:%s", c.Version, c.Hash)
}

// ParseCheckSum parses the "<version>:<hash>" form produced by CheckSum.String.
func ParseCheckSum(s string) (CheckSum, error) {
	version, hash, ok := strings.Cut(s, ":")
	if !ok || hash == "" {
		return CheckSum{}, fmt.Errorf("invalid checksum %q", s)
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return CheckSum{}, fmt.Errorf("invalid checksum version in %q: %w", s, err)
	}
	return CheckSum{Version: v, Hash: hash}, nil
}

// ContextExpression restricts the contexts a change set runs in.
type ContextExpression struct {
	Contexts       []string `json:"contexts"`
	OriginalString string   `json:"originalString"`
}

// ParseContextExpression splits a comma separated context string.
func ParseContextExpression(s string) ContextExpression {
	expr := ContextExpression{OriginalString: s}
	for _, c := range strings.Split(s, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			expr.Contexts = append(expr.Contexts, c)
		}
	}
	return expr
}

// Matches reports whether the expression allows running under the given
// contexts. An empty expression, or an empty set of active contexts, matches.
func (e ContextExpression) Matches(active []string) bool {
	if len(e.Contexts) == 0 || len(active) == 0 {
		return true
	}
	for _, want := range e.Contexts {
		for _, have := range active {
			if strings.EqualFold(want, strings.TrimSpace(have)) {
				return true
			}
		}
	}
	return false
}

// LedgerEntry is the record of one executed change set.
type LedgerEntry struct {
	ID                  string            `json:"id"`
	ChangeLogPath       string            `json:"changeLogPath"`
	StoredChangeLogPath string            `json:"storedChangeLogPath"`
	Author              string            `json:"author"`
	CheckSum            *CheckSum         `json:"checksum"`
	ExecutedAt          time.Time         `json:"executedAt"`
	Tag                 string            `json:"tag"`
	ExecType            ExecType          `json:"execType"`
	Description         string            `json:"description"`
	Comments            string            `json:"comments"`
	OrderExecuted       int               `json:"orderExecuted"`
	ContextExpression   ContextExpression `json:"contextExpression"`
	Labels              string            `json:"labels"`
	DeploymentID        string            `json:"deploymentId"`
	ToolVersion         string            `json:"toolVersion"`
}

// SortByExecution orders entries by execution time, then by order executed.
// The ledger stores make no ordering guarantee.
func SortByExecution(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ExecutedAt.Equal(entries[j].ExecutedAt) {
			return entries[i].ExecutedAt.Before(entries[j].ExecutedAt)
		}
		return entries[i].OrderExecuted < entries[j].OrderExecuted
	})
}

// ChangeTypeHTTPRequest is the type of a change that issues one HTTP request
// against the target store.
const ChangeTypeHTTPRequest = "httpRequest"

// Change is a single unit of work inside a change set.
type Change struct {
	Type   string `json:"type" yaml:"type"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Body   string `json:"body,omitempty" yaml:"body,omitempty"`
}

// String describes the change without dumping its body.
func (c Change) String() string {
	if c.Type == ChangeTypeHTTPRequest {
		return fmt.Sprintf("HTTP %s request against %s (with a body of size %d)", c.Method, c.Path, len(c.Body))
	}
	return fmt.Sprintf("%s change", c.Type)
}

// ChangeSet is one migration step with a stable identity.
type ChangeSet struct {
	ID             string
	Author         string
	FilePath       string
	StoredFilePath string
	Description    string
	Comments       string
	Contexts       ContextExpression
	Labels         string

	// StoredCheckSum is the checksum found in the ledger, if any.
	StoredCheckSum *CheckSum

	// RunAlways re-executes the change set on every update.
	RunAlways bool

	// RunOnChange re-executes the change set when its checksum changes.
	RunOnChange bool

	// ContinueOnError records a failed execution as FAILED instead of aborting.
	ContinueOnError bool

	Changes  []Change
	Rollback []Change
}

// Identifier returns the composite key that identifies the change set in the
// ledger: "<path>::<id>::<author>".
func (cs ChangeSet) Identifier() string {
	return cs.FilePath + "::" + cs.ID + "::" + cs.Author
}

// String returns a human readable reference to the change set.
func (cs ChangeSet) String() string {
	return cs.Identifier()
}

// CollectionNames derives the ledger and lock collection names from a base
// name. Names are lower-cased because OpenSearch rejects upper-case index
// names.
func CollectionNames(base string) (ledger, lock string) {
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		base = DefaultBaseName
	}
	return base, base + "lock"
}
