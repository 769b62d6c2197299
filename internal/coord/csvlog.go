package coord

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CSVLogger writes one row per iteration to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Logger   *log.Logger

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// RankFile returns path with ".rank<N>" inserted before its extension,
// so every rank of a run writes its own file.
func RankFile(path string, rank int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.rank%d%s", strings.TrimSuffix(path, ext), rank, ext)
}

func (c *CSVLogger) OnTrainBegin(*Coordinator) {
	file, err := os.Create(c.Filename)
	if err != nil {
		c.Logger.Printf("CSVLogger: failed to open file %s: %v", c.Filename, err)
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	c.writer.Write([]string{"iteration", "lr", "loss", "iteration_ms", "time_seconds"})
	c.writer.Flush()
}

func (c *CSVLogger) OnIterationEnd(s IterationStats) {
	if c.writer == nil {
		return
	}

	loss := ""
	if !math.IsNaN(s.Loss) {
		loss = fmt.Sprintf("%.6f", s.Loss)
	}
	record := []string{
		strconv.Itoa(s.Iteration + 1),
		fmt.Sprintf("%.6g", s.LR),
		loss,
		fmt.Sprintf("%.3f", ms(s.Elapsed)),
		fmt.Sprintf("%.2f", time.Since(c.start).Seconds()),
	}
	if err := c.writer.Write(record); err != nil {
		c.Logger.Printf("CSVLogger: failed to write record: %v", err)
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(*Coordinator) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}
