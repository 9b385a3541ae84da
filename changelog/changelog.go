// Package changelog reads YAML change logs.
//
// A change log is a list of change sets, optionally pulling in other files:
//
//	databaseChangeLog:
//	  - changeSet:
//	      id: 1
//	      author: alice
//	      context: dev
//	      changes:
//	        - httpRequest:
//	            method: PUT
//	            path: /products
//	            body: '{"mappings":{}}'
//	      rollback:
//	        - httpRequest:
//	            method: DELETE
//	            path: /products
//	  - include:
//	      file: products/data.yaml
//	      relativeToChangelogFile: true
package changelog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getpup/docledger"
	"gopkg.in/yaml.v3"
)

// ErrInvalidChangeLog is wrapped by every validation failure.
var ErrInvalidChangeLog = errors.New("invalid change log")

// ChangeLog is a parsed change log with its includes resolved.
type ChangeLog struct {
	// Path is the path the change log was loaded from.
	Path string

	// ChangeSets are in file order, includes expanded in place.
	ChangeSets []docledger.ChangeSet
}

// scalar accepts any YAML scalar as a string, so that `id: 1` and `id: "1"`
// are equivalent.
type scalar string

func (s *scalar) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", value.Line)
	}
	*s = scalar(value.Value)
	return nil
}

type document struct {
	DatabaseChangeLog []entry `yaml:"databaseChangeLog"`
}

type entry struct {
	ChangeSet *changeSet `yaml:"changeSet"`
	Include   *include   `yaml:"include"`
}

type include struct {
	File                    string `yaml:"file"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
}

type changeSet struct {
	ID          scalar       `yaml:"id"`
	Author      scalar       `yaml:"author"`
	Comment     string       `yaml:"comment"`
	Context     string       `yaml:"context"`
	Contexts    string       `yaml:"contexts"`
	Labels      string       `yaml:"labels"`
	RunAlways   bool         `yaml:"runAlways"`
	RunOnChange bool         `yaml:"runOnChange"`
	FailOnError *bool        `yaml:"failOnError"`
	Changes     []changeNode `yaml:"changes"`
	Rollback    []changeNode `yaml:"rollback"`
}

type changeNode struct {
	HTTPRequest *httpRequest `yaml:"httpRequest"`

	// other holds the type of any change that is not an httpRequest, so the
	// executor can reject it with a useful message.
	other string
}

type httpRequest struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Body   string `yaml:"body"`
}

func (c *changeNode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: a change must be a mapping with exactly one change type", value.Line)
	}
	kind := value.Content[0].Value
	if kind != docledger.ChangeTypeHTTPRequest {
		c.other = kind
		return nil
	}
	c.HTTPRequest = &httpRequest{}
	return value.Content[1].Decode(c.HTTPRequest)
}

func (c changeNode) change() docledger.Change {
	if c.HTTPRequest == nil {
		return docledger.Change{Type: c.other}
	}
	return docledger.Change{
		Type:   docledger.ChangeTypeHTTPRequest,
		Method: strings.ToUpper(strings.TrimSpace(c.HTTPRequest.Method)),
		Path:   strings.TrimSpace(c.HTTPRequest.Path),
		Body:   c.HTTPRequest.Body,
	}
}

// Load reads the change log at path and every file it includes.
func Load(path string) (*ChangeLog, error) {
	l := &loader{seen: make(map[string]bool)}
	sets, err := l.load(path, path)
	if err != nil {
		return nil, err
	}
	if err := checkDuplicates(sets); err != nil {
		return nil, err
	}
	return &ChangeLog{Path: path, ChangeSets: sets}, nil
}

// Parse parses a single change log document. Includes are rejected because
// there is no file system to resolve them against.
func Parse(path string, data []byte) (*ChangeLog, error) {
	l := &loader{seen: make(map[string]bool), noIncludes: true}
	sets, err := l.expand(path, path, data)
	if err != nil {
		return nil, err
	}
	if err := checkDuplicates(sets); err != nil {
		return nil, err
	}
	return &ChangeLog{Path: path, ChangeSets: sets}, nil
}

type loader struct {
	seen       map[string]bool
	noIncludes bool
}

func (l *loader) load(file, logicalPath string) ([]docledger.ChangeSet, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", file, err)
	}
	if l.seen[abs] {
		return nil, fmt.Errorf("%w: %s is included more than once", ErrInvalidChangeLog, file)
	}
	l.seen[abs] = true

	data, err := os.ReadFile(file) // #nosec G304 -- change log paths are operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}

	return l.expand(file, logicalPath, data)
}

func (l *loader) expand(file, logicalPath string, data []byte) ([]docledger.ChangeSet, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidChangeLog, file, err)
	}

	var sets []docledger.ChangeSet
	for i, e := range doc.DatabaseChangeLog {
		switch {
		case e.ChangeSet != nil:
			cs, err := e.ChangeSet.toChangeSet(logicalPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: entry %d: %v", ErrInvalidChangeLog, file, i+1, err)
			}
			sets = append(sets, cs)
		case e.Include != nil:
			if l.noIncludes {
				return nil, fmt.Errorf("%w: %s: entry %d: includes require Load", ErrInvalidChangeLog, file, i+1)
			}
			if e.Include.File == "" {
				return nil, fmt.Errorf("%w: %s: entry %d: include without file", ErrInvalidChangeLog, file, i+1)
			}
			target, logical := e.Include.File, e.Include.File
			if e.Include.RelativeToChangelogFile {
				target = filepath.Join(filepath.Dir(file), e.Include.File)
				logical = filepath.ToSlash(filepath.Join(filepath.Dir(logicalPath), e.Include.File))
			}
			included, err := l.load(target, logical)
			if err != nil {
				return nil, err
			}
			sets = append(sets, included...)
		default:
			return nil, fmt.Errorf("%w: %s: entry %d: expected changeSet or include", ErrInvalidChangeLog, file, i+1)
		}
	}
	return sets, nil
}

func (c *changeSet) toChangeSet(path string) (docledger.ChangeSet, error) {
	id := strings.TrimSpace(string(c.ID))
	author := strings.TrimSpace(string(c.Author))
	if id == "" {
		return docledger.ChangeSet{}, errors.New("changeSet id is required")
	}
	if author == "" {
		return docledger.ChangeSet{}, fmt.Errorf("changeSet %s: author is required", id)
	}

	contexts := c.Context
	if contexts == "" {
		contexts = c.Contexts
	}

	cs := docledger.ChangeSet{
		ID:              id,
		Author:          author,
		FilePath:        filepath.ToSlash(path),
		StoredFilePath:  filepath.ToSlash(path),
		Comments:        c.Comment,
		Contexts:        docledger.ParseContextExpression(contexts),
		Labels:          c.Labels,
		RunAlways:       c.RunAlways,
		RunOnChange:     c.RunOnChange,
		ContinueOnError: c.FailOnError != nil && !*c.FailOnError,
	}
	for _, n := range c.Changes {
		cs.Changes = append(cs.Changes, n.change())
	}
	for _, n := range c.Rollback {
		cs.Rollback = append(cs.Rollback, n.change())
	}
	cs.Description = describe(cs.Changes)
	return cs, nil
}

// describe summarises the change types, e.g. "httpRequest (x2)".
func describe(changes []docledger.Change) string {
	if len(changes) == 0 {
		return "empty"
	}
	var (
		parts []string
		last  string
		count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		if count > 1 {
			parts = append(parts, fmt.Sprintf("%s (x%d)", last, count))
			return
		}
		parts = append(parts, last)
	}
	for _, c := range changes {
		if c.Type == last {
			count++
			continue
		}
		flush()
		last, count = c.Type, 1
	}
	flush()
	return strings.Join(parts, ", ")
}

func checkDuplicates(sets []docledger.ChangeSet) error {
	seen := make(map[string]bool, len(sets))
	for _, cs := range sets {
		key := cs.Identifier()
		if seen[key] {
			return fmt.Errorf("%w: duplicate change set %s", ErrInvalidChangeLog, key)
		}
		seen[key] = true
	}
	return nil
}
