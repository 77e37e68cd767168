// ABOUTME: Tests for the per-activation fingerprint ledger.
// ABOUTME: Validates normalization, check-and-mark, reset, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Qual o status?", Normalize("  Qual   o\n status?\t"))
	assert.Equal(t, "", Normalize(" \n\t "))
}

func TestLedger_CheckAndMark_NewThenDuplicate(t *testing.T) {
	l := New(100)

	fp := NewFingerprint("c1", "user", "Qual o status do projeto X?")
	assert.False(t, l.CheckAndMark(fp), "first sighting should be new")
	assert.True(t, l.CheckAndMark(fp), "second sighting should be a duplicate")
	assert.Equal(t, 1, l.Len())
}

func TestLedger_WhitespaceVariantsCollide(t *testing.T) {
	l := New(100)

	assert.False(t, l.CheckAndMark(NewFingerprint("c1", "user", "hello world")))
	assert.True(t, l.CheckAndMark(NewFingerprint("c1", "user", " hello\n  world ")))
}

func TestLedger_DistinctRoleOrConversation(t *testing.T) {
	l := New(100)

	assert.False(t, l.CheckAndMark(NewFingerprint("c1", "user", "ok")))
	assert.False(t, l.CheckAndMark(NewFingerprint("c1", "assistant", "ok")), "role is part of the fingerprint")
	assert.False(t, l.CheckAndMark(NewFingerprint("c2", "user", "ok")), "conversation is part of the fingerprint")
}

func TestLedger_Reset(t *testing.T) {
	l := New(100)
	fp := NewFingerprint("c1", "user", "hi")

	l.CheckAndMark(fp)
	assert.True(t, recorded(l, fp))

	l.Reset()
	assert.False(t, recorded(l, fp))
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.CheckAndMark(fp), "fingerprint should be new again after reset")
}

func TestLedger_EvictionOrder(t *testing.T) {
	l := New(3)

	for _, text := range []string{"first", "second", "third"} {
		l.CheckAndMark(NewFingerprint("c", "user", text))
	}
	l.CheckAndMark(NewFingerprint("c", "user", "fourth"))

	assert.False(t, recorded(l, NewFingerprint("c", "user", "first")), "oldest should be evicted")
	assert.True(t, recorded(l, NewFingerprint("c", "user", "second")))
	assert.True(t, recorded(l, NewFingerprint("c", "user", "fourth")))
	assert.Equal(t, 3, l.Len())
}

func TestLedger_DefaultSize(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultMaxSize, l.maxSize)
}

func TestLedger_CheckAndMark_Atomic(t *testing.T) {
	l := New(100)
	fp := NewFingerprint("c1", "assistant", "contested")

	const numGoroutines = 100
	var winners int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !l.CheckAndMark(fp) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners, "exactly one goroutine should record the fingerprint")
}

func TestLedger_ConcurrentResetAndMark(t *testing.T) {
	l := New(50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.CheckAndMark(NewFingerprint("c", "user", fmt.Sprintf("%d-%d", id, j)))
				if j%25 == 0 {
					l.Reset()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, l.Len(), 50)
}

// recorded inspects the ledger without marking fp
func recorded(l *Ledger, fp Fingerprint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[fp]
	return ok
}
