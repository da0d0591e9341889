package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"driftd/internal/issue"
)

// SchemaVersion stamps every journal record. Consumers must tolerate
// additive new fields; bumping this marks a non-additive evolution.
const SchemaVersion = "driftd.journal.v1"

// recordSchema is the contract journal consumers can rely on. Additional
// properties stay allowed: the log is append-only and additive.
const recordSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["schema_version", "op", "at", "issue"],
	"properties": {
		"schema_version": {"type": "string"},
		"op": {"type": "string", "enum": ["create", "update", "transition"]},
		"at": {"type": "string"},
		"issue": {
			"type": "object",
			"required": ["id", "component_id", "doc_path", "status"],
			"properties": {
				"id": {"type": "string"},
				"component_id": {"type": "string"},
				"doc_path": {"type": "string"},
				"status": {"type": "string"}
			}
		}
	}
}`

var compiledRecordSchema = jsonschema.MustCompileString("journal-record.json", recordSchema)

// Record is one append-only journal line: a full snapshot of the issue
// after the mutation, never a destructive rewrite of history.
type Record struct {
	SchemaVersion string          `json:"schema_version"`
	Op            string          `json:"op"`
	At            time.Time       `json:"at"`
	Issue         *issue.DocIssue `json:"issue"`
}

// Journal is the append-only DocIssue mutation log: one JSON object per
// line, each stamped with schema_version.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// AppendIssue implements issue.Journal.
func (j *Journal) AppendIssue(ctx context.Context, op string, d *issue.DocIssue) error {
	rec := Record{
		SchemaVersion: SchemaVersion,
		Op:            op,
		At:            time.Now().UTC(),
		Issue:         d,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

// ValidateRecord checks one raw journal line against the record schema.
func ValidateRecord(line []byte) error {
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return fmt.Errorf("journal line is not valid JSON: %w", err)
	}
	if err := compiledRecordSchema.Validate(doc); err != nil {
		return fmt.Errorf("journal record failed schema validation: %w", err)
	}
	return nil
}

// ReadJournal parses every line of a journal file. Unknown fields are
// ignored (additive evolution); invalid lines are skipped and reported as
// warnings rather than aborting the whole read.
func ReadJournal(path string) ([]Record, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var records []Record
	var warnings []error

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := ValidateRecord(line); err != nil {
			warnings = append(warnings, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			warnings = append(warnings, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		records = append(records, rec)
	}
	return records, warnings, scanner.Err()
}

// FoldIssues replays journal records into current issue state. Records
// carry full snapshots, so the latest record per id wins.
func FoldIssues(records []Record) map[string]*issue.DocIssue {
	state := make(map[string]*issue.DocIssue)
	for _, rec := range records {
		if rec.Issue == nil {
			continue
		}
		state[rec.Issue.ID] = rec.Issue.Clone()
	}
	return state
}
