package cache

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/pcode/vm"
	"github.com/chazu/pcode/vm/image"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func assemble(t *testing.T, text string) *vm.Program {
	t.Helper()
	p, err := vm.Assemble(text)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return p
}

// countingCompiler assembles its source and counts calls.
type countingCompiler struct {
	mu    sync.Mutex
	calls int
}

func (cc *countingCompiler) compile(source string) (*vm.Program, error) {
	cc.mu.Lock()
	cc.calls++
	cc.mu.Unlock()
	return vm.Assemble(source)
}

func TestGetMissing(t *testing.T) {
	c := openTemp(t)
	_, err := c.Get(image.HashSource([]byte("nothing")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	hash := image.HashSource([]byte("src"))
	if err := c.Put(hash, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(hash, []byte{4, 5}); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got, err := c.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string([]byte{4, 5}) {
		t.Errorf("Get = %v, want [4 5]", got)
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestCompileHitAndMiss(t *testing.T) {
	c := openTemp(t)
	cc := &countingCompiler{}
	source := "ldc 2.5\nwri\nstp\n"

	p, hit, err := c.Compile(source, cc.compile)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if hit {
		t.Error("first Compile reported a hit")
	}
	again, hit, err := c.Compile(source, cc.compile)
	if err != nil {
		t.Fatalf("Compile again: %v", err)
	}
	if !hit {
		t.Error("second Compile reported a miss")
	}
	if cc.calls != 1 {
		t.Errorf("compiler called %d times, want 1", cc.calls)
	}
	if again.String() != p.String() {
		t.Errorf("cached program differs:\n%s\nvs\n%s", again, p)
	}

	if _, hit, _ := c.Compile(source+"\n", cc.compile); hit {
		t.Error("changed source hit the cache")
	}
}

func TestCompileErrorNotCached(t *testing.T) {
	c := openTemp(t)
	cc := &countingCompiler{}
	if _, _, err := c.Compile("frob\n", cc.compile); err == nil {
		t.Fatal("Compile succeeded, want error")
	}
	if n, _ := c.Len(); n != 0 {
		t.Errorf("Len = %d after a failed compile, want 0", n)
	}
}

func TestLoadDropsUndecodableEntry(t *testing.T) {
	c := openTemp(t)
	hash := image.HashSource([]byte("x"))
	if err := c.Put(hash, []byte("not an image")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Load(hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
	if _, err := c.Get(hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad entry still present: %v", err)
	}
}

func TestLoadRejectsForeignHash(t *testing.T) {
	c := openTemp(t)
	p := assemble(t, "stp\n")
	data, err := image.Marshal(p, image.HashSource([]byte("other")))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	hash := image.HashSource([]byte("this"))
	if err := c.Put(hash, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Load(hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash := image.HashSource([]byte("keep"))
	if err := c.Store(hash, assemble(t, "ldc \"kept\"\nwri\nstp\n")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	p, err := c.Load(hash)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(p.String(), `ldc "kept"`) {
		t.Errorf("reloaded program = %s", p)
	}
	if c.Path() != path {
		t.Errorf("Path = %q, want %q", c.Path(), path)
	}
}

func TestClear(t *testing.T) {
	c := openTemp(t)
	for _, s := range []string{"a", "b", "c"} {
		if err := c.Put(image.HashSource([]byte(s)), []byte(s)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := c.Len(); n != 0 {
		t.Errorf("Len = %d after Clear, want 0", n)
	}
}

func TestConcurrentCompile(t *testing.T) {
	c := openTemp(t)
	cc := &countingCompiler{}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Compile("ldc 1\nwri\nstp\n", cc.compile)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("Compile %d: %v", i, err)
		}
	}
	if n, _ := c.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestMemoryCache(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if err := c.Put(image.HashSource(nil), []byte{9}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Get(image.HashSource(nil)); err != nil {
		t.Errorf("Get: %v", err)
	}
}
