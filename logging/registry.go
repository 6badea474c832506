package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// One logger per name for the whole process. Every logger writes through the
// shared output, so swapping the output after loggers exist is safe.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*log.Logger)
	output     = &switchWriter{w: os.Stdout}
)

type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

// SetOutput redirects every registry logger, including ones already handed out.
func SetOutput(w io.Writer) {
	output.set(w)
}

// Get returns the logger registered under name, creating it on first use.
func Get(name string) *log.Logger {
	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[name]; ok {
		return l
	}
	l := log.New(output, "["+name+"] ", log.LstdFlags|log.Lmsgprefix)
	registry[name] = l
	return l
}
