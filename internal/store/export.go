package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/platewatch/platewatch/internal/model"
)

// Sink is the secondary write target of the dual-write layer: an
// append-only log that survives database outages.
type Sink interface {
	AppendRecord(ctx context.Context, rec *model.DetectionRecord) error
	AppendEvidence(ctx context.Context, ev *model.VideoEvidence) error
	Close() error
}

// exportVersion marks the line format; bump on incompatible changes.
const exportVersion = "1"

type exportLine struct {
	Kind     string                 `json:"kind"` // "session", "record", "evidence"
	At       time.Time              `json:"at"`
	Revision int                    `json:"revision,omitempty"` // per record id, increments on re-append
	Session  *exportSession         `json:"session,omitempty"`
	Record   *model.DetectionRecord `json:"record,omitempty"`
	Evidence *model.VideoEvidence   `json:"evidence,omitempty"`
}

type exportSession struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// JSONLSink appends records and evidence to a per-session JSONL file.
// Updates to a record are re-appended as new lines carrying a higher
// revision; readers take the highest revision per record id as current.
type JSONLSink struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
	revs map[string]int
}

// NewJSONLSink opens a new session file under dir and writes the
// session header line.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "export: create dir")
	}

	now := time.Now().UTC()
	path := filepath.Join(dir, fmt.Sprintf("session_%s.jsonl", now.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}

	s := &JSONLSink{f: f, enc: json.NewEncoder(f), path: path, revs: make(map[string]int)}

	hostname, _ := os.Hostname()
	if err := s.append(exportLine{
		Kind:    "session",
		At:      now,
		Session: &exportSession{Version: exportVersion, StartedAt: now, Hostname: hostname},
	}); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the session file path.
func (s *JSONLSink) Path() string {
	return s.path
}

func (s *JSONLSink) append(line exportLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(line)
}

func (s *JSONLSink) appendLocked(line exportLine) error {
	if err := s.enc.Encode(line); err != nil {
		return eris.Wrap(err, "export: append line")
	}
	return nil
}

func (s *JSONLSink) AppendRecord(_ context.Context, rec *model.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revs[rec.ID]++
	return s.appendLocked(exportLine{Kind: "record", At: time.Now().UTC(), Revision: s.revs[rec.ID], Record: rec})
}

func (s *JSONLSink) AppendEvidence(_ context.Context, ev *model.VideoEvidence) error {
	return s.append(exportLine{Kind: "evidence", At: time.Now().UTC(), Evidence: ev})
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ReadExport loads a session export file and returns the current state
// of its records and evidence, in first-seen order. Re-appended record
// lines supersede earlier revisions of the same id.
func ReadExport(path string) ([]model.DetectionRecord, []model.VideoEvidence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close()

	recs := make(map[string]exportLine)
	evs := make(map[string]model.VideoEvidence)
	var recOrder, evOrder []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line exportLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, nil, eris.Wrap(err, "export: parse line")
		}
		switch line.Kind {
		case "record":
			if line.Record == nil {
				continue
			}
			prev, seen := recs[line.Record.ID]
			if !seen {
				recOrder = append(recOrder, line.Record.ID)
			}
			if !seen || line.Revision >= prev.Revision {
				recs[line.Record.ID] = line
			}
		case "evidence":
			if line.Evidence == nil {
				continue
			}
			if _, seen := evs[line.Evidence.ID]; !seen {
				evOrder = append(evOrder, line.Evidence.ID)
			}
			evs[line.Evidence.ID] = *line.Evidence
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "export: scan")
	}

	records := make([]model.DetectionRecord, 0, len(recOrder))
	for _, id := range recOrder {
		records = append(records, *recs[id].Record)
	}
	evidence := make([]model.VideoEvidence, 0, len(evOrder))
	for _, id := range evOrder {
		evidence = append(evidence, evs[id])
	}
	return records, evidence, nil
}
