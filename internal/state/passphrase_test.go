package state

import (
	"errors"
	"sync"
	"testing"
)

func TestPassphrase_ResolveCachesAndCopies(t *testing.T) {
	var p Passphrase
	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		return []byte("s3cr3t"), nil
	}

	got, err := p.Resolve(fetch)
	if err != nil || string(got) != "s3cr3t" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	got[0] = 'X'
	again, _ := p.Resolve(fetch)
	if string(again) != "s3cr3t" {
		t.Fatalf("cache should hand out copies, got %q", again)
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	p.Clear()
	if _, err := p.Resolve(fetch); err != nil || calls != 2 {
		t.Fatalf("expected a new fetch after Clear, calls=%d err=%v", calls, err)
	}
}

func TestPassphrase_FailedFetchIsNotCached(t *testing.T) {
	var p Passphrase
	boom := errors.New("no tty")
	if _, err := p.Resolve(func() ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	got, err := p.Resolve(func() ([]byte, error) { return []byte("ok"), nil })
	if err != nil || string(got) != "ok" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestPassphrase_ConcurrentResolve(t *testing.T) {
	var p Passphrase
	defer p.Clear()

	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Resolve(func() ([]byte, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				return []byte("concurrent"), nil
			})
			if err != nil || string(v) != "concurrent" {
				t.Errorf("Resolve = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
}

func TestWipe(t *testing.T) {
	b := []byte("abc")
	Wipe(b)
	for _, c := range b {
		if c != 0 {
			t.Fatalf("not wiped: %v", b)
		}
	}
}
