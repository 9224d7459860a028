package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// sinkTimeFormat is the RFC3339-with-milliseconds timestamp written on
// every line and used in rotated file names.
const sinkTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// sinkLine is the persisted JSON-Lines record.
type sinkLine struct {
	Type          string `json:"type"`
	TS            string `json:"ts"`
	CorrelationID string `json:"correlationId,omitempty"`
	Severity      string `json:"severity"`
	Payload       any    `json:"payload,omitempty"`
}

// sinkManifest is written next to a file at rotation time.
type sinkManifest struct {
	File       string `json:"file"`
	Lines      int64  `json:"lines"`
	Bytes      int64  `json:"bytes"`
	FirstTS    string `json:"first_ts"`
	LastTS     string `json:"last_ts"`
	RotatedAt  string `json:"rotated_at"`
	TopicGroup string `json:"topic"`
}

// topicFile is the open append target for one topic family.
type topicFile struct {
	f       *os.File
	path    string
	bytes   int64
	lines   int64
	firstTS string
	lastTS  string
}

// Sink drains a bus subscription into append-only JSON-Lines files,
// one subdirectory per topic family, rotated by size and age.
type Sink struct {
	dir           string
	rotateBytes   int64
	retentionDays int

	bus *Bus
	sub *Subscription

	mu    sync.Mutex
	files map[string]*topicFile

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSink creates a sink writing under dir. The sink subscribes to all
// topics on Start and drains until Stop.
func NewSink(bus *Bus, dir string, rotateMB, retentionDays int) *Sink {
	return &Sink{
		dir:           dir,
		rotateBytes:   int64(rotateMB) * 1024 * 1024,
		retentionDays: retentionDays,
		bus:           bus,
		files:         make(map[string]*topicFile),
		stopCh:        make(chan struct{}),
	}
}

// Start begins draining events in a goroutine.
func (s *Sink) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating event sink dir: %w", err)
	}
	s.sub = s.bus.Subscribe()
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop drains remaining buffered events, closes open files, and waits
// for the writer goroutine.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.bus.Unsubscribe(s.sub)
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()
	defer s.closeAll()

	retention := time.NewTicker(1 * time.Hour)
	defer retention.Stop()

	for {
		select {
		case evt, ok := <-s.sub.C():
			if !ok {
				return
			}
			if err := s.write(evt); err != nil {
				slog.Warn("Event sink write failed", "type", evt.Type, "error", err)
			}
		case <-retention.C:
			s.sweepRetention()
		case <-s.stopCh:
			// Drain whatever Unsubscribe left in the buffer.
			for {
				select {
				case evt, ok := <-s.sub.C():
					if !ok {
						return
					}
					if err := s.write(evt); err != nil {
						slog.Warn("Event sink write failed", "type", evt.Type, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(evt Event) error {
	line := sinkLine{
		Type:          evt.Type,
		TS:            evt.Timestamp.Format(sinkTimeFormat),
		CorrelationID: evt.CorrelationID,
		Severity:      evt.Severity,
		Payload:       evt.Payload,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshaling event line: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	topic := TopicOf(evt.Type)
	tf, err := s.fileFor(topic)
	if err != nil {
		return err
	}

	n, err := tf.f.Write(data)
	if err != nil {
		return fmt.Errorf("appending event line: %w", err)
	}
	tf.bytes += int64(n)
	tf.lines++
	if tf.firstTS == "" {
		tf.firstTS = line.TS
	}
	tf.lastTS = line.TS

	if s.rotateBytes > 0 && tf.bytes >= s.rotateBytes {
		return s.rotate(topic, tf)
	}
	return nil
}

// fileFor opens (or returns) the current append target for a topic.
func (s *Sink) fileFor(topic string) (*topicFile, error) {
	if tf, ok := s.files[topic]; ok {
		return tf, nil
	}

	dir := filepath.Join(s.dir, topic)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating topic dir: %w", err)
	}
	path := filepath.Join(dir, "current.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat event file: %w", err)
	}

	tf := &topicFile{f: f, path: path, bytes: info.Size()}
	s.files[topic] = tf
	return tf, nil
}

// rotate renames current.jsonl to a timestamped file and writes the
// signed-off manifest next to it.
func (s *Sink) rotate(topic string, tf *topicFile) error {
	if err := tf.f.Close(); err != nil {
		return fmt.Errorf("closing event file for rotation: %w", err)
	}
	delete(s.files, topic)

	now := time.Now().UTC()
	rotated := filepath.Join(filepath.Dir(tf.path),
		fmt.Sprintf("events-%s.jsonl", now.Format("20060102-150405")))
	if err := os.Rename(tf.path, rotated); err != nil {
		return fmt.Errorf("rotating event file: %w", err)
	}

	manifest := sinkManifest{
		File:       filepath.Base(rotated),
		Lines:      tf.lines,
		Bytes:      tf.bytes,
		FirstTS:    tf.firstTS,
		LastTS:     tf.lastTS,
		RotatedAt:  now.Format(sinkTimeFormat),
		TopicGroup: topic,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(rotated+".manifest.json", data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// sweepRetention removes rotated files older than the retention window.
func (s *Sink) sweepRetention() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, topic := range Topics() {
		dir := filepath.Join(s.dir, topic)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "events-") {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				slog.Warn("Failed to remove expired event file",
					"file", entry.Name(), "error", err)
			}
		}
	}
}

func (s *Sink) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, tf := range s.files {
		if err := tf.f.Close(); err != nil {
			slog.Warn("Failed to close event file", "topic", topic, "error", err)
		}
		delete(s.files, topic)
	}
}
