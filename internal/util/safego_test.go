package util

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// syncBuffer lets the test poll log output written from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForLog(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("%q not logged, output: %s", want, buf.String())
}

func TestSafeGoRunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	ran := false
	SafeGo(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()

	if !ran {
		t.Error("function did not run")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	original := logging.Logger()
	defer logging.SetLogger(original)

	buf := &syncBuffer{}
	logging.SetOutput(buf)

	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("refresh exploded")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}

	// The close runs before the wrapper's recover logs; poll briefly.
	waitForLog(t, buf, "refresh exploded")
}

func TestSafeGoWithNameTagsPanic(t *testing.T) {
	original := logging.Logger()
	defer logging.SetLogger(original)

	buf := &syncBuffer{}
	logging.SetOutput(buf)

	done := make(chan struct{})
	SafeGoWithName("refresh-loop", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	waitForLog(t, buf, "refresh-loop")
}
