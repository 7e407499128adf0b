package sketch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"NetUnivMon/internal/engine/impl/sketch/statistic"
	"NetUnivMon/internal/model"
)

// TextWriter handles writing heavy hitters to a text file.
type TextWriter struct {
	rootPath string
	interval time.Duration
}

// NewTextWriter creates a new text writer for heavy hitters.
func NewTextWriter(rootPath string, interval time.Duration) model.Writer {
	return &TextWriter{rootPath: rootPath, interval: interval}
}

func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *TextWriter) Write(payload interface{}, timestamp, name string, fields []string, decodeFlowFunc func(flow []byte, fields []string) string) error {
	heavyHitters, ok := payload.([]statistic.HeavyRecord)
	if !ok {
		return fmt.Errorf("invalid payload type for TextWriter: expected []statistic.HeavyRecord, got %T", payload)
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	taskDir := filepath.Join(snapshotDir, name)
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(taskDir, "heavy_hitters.txt")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	total := 0
	for _, hitter := range heavyHitters {
		line := fmt.Sprintf("%s %d\n", decodeFlowFunc(hitter.Flow, fields), hitter.Count)
		if _, err := file.WriteString(line); err != nil {
			return fmt.Errorf("failed to write heavy hitter to file: %w", err)
		}
		total++
	}

	log.Printf("Successfully wrote %d heavy hitters to %s\n", total, taskDir)

	return nil
}
