package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benchsweep/benchsweep/internal/matrix"
	"github.com/benchsweep/benchsweep/internal/track"
)

const (
	recordFile = "status.json"
	stdoutFile = "stdout.log"
	stderrFile = "stderr.log"
	scriptFile = "job.sh"
	outputsDir = "outputs"
)

// ErrExists reports that an instance's result directory is already
// claimed; without --clobber the engine never overwrites it.
var ErrExists = errors.New("result directory already exists")

// Store lays results out on disk, one directory per run instance:
//
//	<root>/<bench>/<combo>__r<N>/
//	    status.json   submission record and lifecycle state
//	    job.sh        the rendered job script
//	    stdout.log    captured standard output
//	    stderr.log    captured standard error
//	    outputs/      named files the job wrote via $BENCHSWEEP_OUTPUT_DIR
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

// Dir returns the instance's result directory.
func (s *Store) Dir(inst *matrix.RunInstance) string {
	return filepath.Join(s.root, inst.BenchKey(), inst.Leaf())
}

func (s *Store) StdoutPath(inst *matrix.RunInstance) string {
	return filepath.Join(s.Dir(inst), stdoutFile)
}

func (s *Store) StderrPath(inst *matrix.RunInstance) string {
	return filepath.Join(s.Dir(inst), stderrFile)
}

func (s *Store) ScriptPath(inst *matrix.RunInstance) string {
	return filepath.Join(s.Dir(inst), scriptFile)
}

func (s *Store) OutputDir(inst *matrix.RunInstance) string {
	return filepath.Join(s.Dir(inst), outputsDir)
}

// Claim creates the instance directory, failing with ErrExists when an
// earlier run already claimed it. The create is a single mkdir, so two
// racing submitters cannot both win.
func (s *Store) Claim(inst *matrix.RunInstance) error {
	dir := s.Dir(inst)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("creating bench dir: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", dir, ErrExists)
		}
		return fmt.Errorf("claiming %s: %w", dir, err)
	}
	if err := os.Mkdir(s.OutputDir(inst), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	return nil
}

// Exists reports whether the instance already has a result directory.
func (s *Store) Exists(inst *matrix.RunInstance) bool {
	_, err := os.Stat(s.Dir(inst))
	return err == nil
}

// Discard removes everything recorded for the instance.
func (s *Store) Discard(inst *matrix.RunInstance) error {
	if err := os.RemoveAll(s.Dir(inst)); err != nil {
		return fmt.Errorf("discarding %s: %w", s.Dir(inst), err)
	}
	return nil
}

// Record is the persisted view of one run instance.
type Record struct {
	ID            string              `json:"id"`
	Bench         string              `json:"bench"`
	Configuration string              `json:"configuration"`
	Values        []matrix.Assignment `json:"values,omitempty"`
	Rerun         int                 `json:"rerun"`
	Command       string              `json:"command,omitempty"`
	Handle        string              `json:"handle,omitempty"`
	State         track.State         `json:"state"`
	Detail        string              `json:"detail,omitempty"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewRecord starts the record for a just-claimed instance.
func NewRecord(inst *matrix.RunInstance) *Record {
	now := time.Now().UTC()
	rec := &Record{
		ID:            inst.ID,
		Bench:         inst.Bench,
		Configuration: inst.Config,
		Values:        inst.Values,
		Rerun:         inst.Rerun,
		State:         track.Pending,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if inst.Resolved != nil {
		rec.Command = inst.Resolved.CommandLine()
	}
	return rec
}

func (s *Store) WriteRecord(inst *matrix.RunInstance, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	path := filepath.Join(s.Dir(inst), recordFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

func (s *Store) ReadRecord(inst *matrix.RunInstance) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(inst), recordFile))
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}
	return &rec, nil
}

// UpdateState rewrites the instance's record with a new lifecycle state.
// It satisfies track.Sink.
func (s *Store) UpdateState(inst *matrix.RunInstance, state track.State, detail string) error {
	rec, err := s.ReadRecord(inst)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Detail = detail
	rec.UpdatedAt = time.Now().UTC()
	return s.WriteRecord(inst, rec)
}

// Exited reports whether the run delivered its stdout artifact. It
// satisfies track.ExitProbe.
func (s *Store) Exited(inst *matrix.RunInstance) bool {
	_, err := os.Stat(s.StdoutPath(inst))
	return err == nil
}

// WriteScript keeps the rendered job script next to its results.
func (s *Store) WriteScript(inst *matrix.RunInstance, script string) error {
	if err := os.WriteFile(s.ScriptPath(inst), []byte(script), 0o644); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}
	return nil
}

// Persist writes captured artifacts for an instance whose output was
// collected in process rather than delivered by the backend.
func (s *Store) Persist(inst *matrix.RunInstance, stdout, stderr []byte, outputs map[string][]byte) error {
	if stdout != nil {
		if err := os.WriteFile(s.StdoutPath(inst), stdout, 0o644); err != nil {
			return fmt.Errorf("writing stdout: %w", err)
		}
	}
	if stderr != nil {
		if err := os.WriteFile(s.StderrPath(inst), stderr, 0o644); err != nil {
			return fmt.Errorf("writing stderr: %w", err)
		}
	}
	for name, data := range outputs {
		if err := checkOutputName(name); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(s.OutputDir(inst), name), data, 0o644); err != nil {
			return fmt.Errorf("writing output %s: %w", name, err)
		}
	}
	return nil
}

// Result is everything recorded for one run instance.
type Result struct {
	Record *Record
	Stdout []byte
	Stderr []byte
	dir    string
}

// Load reads an instance's record and captured streams. A run that was
// never recorded surfaces as fs.ErrNotExist; streams that were never
// delivered load as nil.
func (s *Store) Load(inst *matrix.RunInstance) (*Result, error) {
	rec, err := s.ReadRecord(inst)
	if err != nil {
		return nil, err
	}
	res := &Result{Record: rec, dir: s.Dir(inst)}
	if data, err := os.ReadFile(s.StdoutPath(inst)); err == nil {
		res.Stdout = data
	}
	if data, err := os.ReadFile(s.StderrPath(inst)); err == nil {
		res.Stderr = data
	}
	return res, nil
}

// OutputFile reads a named file the job left in outputs/.
func (r *Result) OutputFile(name string) ([]byte, error) {
	if err := checkOutputName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(r.dir, outputsDir, name))
}

func checkOutputName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("bad output name %q", name)
	}
	return nil
}
