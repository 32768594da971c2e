// Package recordlog writes flow records to disk and reads them back for reingestion.
package recordlog

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Go2NetLog/internal/model"

	"k8s.io/klog/v2"
)

const defaultBufferSize = 10000

// Config selects where and how records are logged.
type Config struct {
	Path              string
	Encoding          string // "gob" or "text"
	ChannelBufferSize int
}

// Worker appends records to a timestamped file on a single goroutine.
type Worker struct {
	recordChan chan model.FlowRecord
	file       *os.File
	wg         sync.WaitGroup
	stopOnce   sync.Once

	mu      sync.Mutex
	dropped int
}

// NewWorker creates the output file and starts the writer goroutine.
func NewWorker(cfg Config) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record log directory: %w", err)
	}

	var run func(w *Worker)
	ext := ".log"
	switch cfg.Encoding {
	case "gob", "":
		run, ext = (*Worker).runGob, ".gob"
	case "text":
		run = (*Worker).runText
	default:
		return nil, fmt.Errorf("unknown record log encoding '%s'", cfg.Encoding)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	fileName := time.Now().Format("2006-01-02_15-04-05") + ext
	file, err := os.OpenFile(filepath.Join(cfg.Path, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create record log: %w", err)
	}

	w := &Worker{
		recordChan: make(chan model.FlowRecord, bufferSize),
		file:       file,
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run(w)
	}()

	klog.Infof("Record log started, encoding: %s, writing to: %s", ext[1:], file.Name())
	return w, nil
}

// Path returns the file the worker writes to.
func (w *Worker) Path() string {
	return w.file.Name()
}

func (w *Worker) runGob() {
	encoder := gob.NewEncoder(w.file)
	for rec := range w.recordChan {
		if err := encoder.Encode(&rec); err != nil {
			klog.Errorf("Record log (gob): error encoding record: %v", err)
		}
	}
}

func (w *Worker) runText() {
	writer := bufio.NewWriter(w.file)
	for rec := range w.recordChan {
		line := fmt.Sprintf("%d owner=%d in=%q out=%q %s:%d -> %s:%d len=%d\n",
			rec.Timestamp, rec.OwnerID, rec.InInterface, rec.OutInterface,
			rec.SrcAddr, rec.SrcPort, rec.DstAddr, rec.DstPort, rec.Length)
		if _, err := writer.WriteString(line); err != nil {
			klog.Errorf("Record log (text): error writing record: %v", err)
		}
	}
	if err := writer.Flush(); err != nil {
		klog.Errorf("Record log (text): error flushing: %v", err)
	}
}

// Enqueue hands a record to the writer. Records are dropped while the buffer is full.
func (w *Worker) Enqueue(rec model.FlowRecord) bool {
	select {
	case w.recordChan <- rec:
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		klog.V(2).Info("Record log: channel is full, dropping record.")
		return false
	}
}

// Dropped returns how many records Enqueue rejected.
func (w *Worker) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Stop flushes every queued record and closes the file. Enqueue must not be called afterwards.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.recordChan)
		w.wg.Wait()
		err = w.file.Close()
		klog.Info("Record log stopped and file closed.")
	})
	return err
}

// ReadLog decodes every record of a gob record log in write order.
func ReadLog(path string) ([]model.FlowRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []model.FlowRecord
	decoder := gob.NewDecoder(bufio.NewReader(file))
	for {
		var rec model.FlowRecord
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("failed to decode record %d of %s: %w", len(records), path, err)
		}
		records = append(records, rec)
	}
}
