// Package secure implements the SecureBuffer Manager (component A): an
// owned byte sequence with explicit zeroization, and a process-wide
// registry for emergency teardown.
//
// The registry holds a strong reference to every buffer until its Zero
// call, so a buffer that is never zeroed stays reachable: it is not
// garbage collected, and no finalizer armed by Watch runs for it. Zero
// (directly, or through DestroyAll) is the mechanism that wipes a buffer. Zero always
// overwrites with fresh random bytes before the final zero pass, which
// defeats a compiler or runtime eliding the last store as dead.
package secure

import (
	"crypto/rand"
	"runtime"
	"sync"
	"sync/atomic"

	qerrors "github.com/tallowteam/Tallow-sub004/internal/errors"
)

// Bytes is an owned, zeroizable byte buffer.
type Bytes struct {
	mu     sync.Mutex
	data   []byte
	zeroed atomic.Bool
	label  string
	id     uint64
}

var (
	registry   sync.Map // id -> *Bytes
	nextID     atomic.Uint64
)

func register(b *Bytes) {
	b.id = nextID.Add(1)
	registry.Store(b.id, b)
}

func unregister(b *Bytes) {
	registry.Delete(b.id)
}

// FromCopy copies src into a new SecureBytes. src is not modified or
// retained; the caller remains responsible for wiping it if it also holds
// secret material.
func FromCopy(src []byte, label string) (*Bytes, error) {
	if len(src) == 0 {
		return nil, qerrors.ErrZeroLength
	}
	data := make([]byte, len(src))
	copy(data, src)
	b := &Bytes{data: data, label: label}
	register(b)
	return b, nil
}

// Take adopts src directly (no copy) as a new SecureBytes. The caller must
// not retain or mutate src afterward.
func Take(src []byte, label string) (*Bytes, error) {
	if len(src) == 0 {
		return nil, qerrors.ErrZeroLength
	}
	b := &Bytes{data: src, label: label}
	register(b)
	return b, nil
}

// Random allocates n bytes of cryptographically random data.
func Random(n int, label string) (*Bytes, error) {
	if n <= 0 {
		return nil, qerrors.ErrZeroLength
	}
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		return nil, qerrors.NewCryptoError("secure.Random", err)
	}
	b := &Bytes{data: data, label: label}
	register(b)
	return b, nil
}

// Alloc allocates n zeroed bytes, for destinations filled in by the caller.
func Alloc(n int, label string) (*Bytes, error) {
	if n <= 0 {
		return nil, qerrors.ErrZeroLength
	}
	b := &Bytes{data: make([]byte, n), label: label}
	register(b)
	return b, nil
}

// Data returns the underlying bytes. Fails with ErrUseAfterZero once the
// buffer has been wiped. The returned slice aliases internal storage and
// must not be retained past the buffer's lifetime.
func (b *Bytes) Data() ([]byte, error) {
	if b.zeroed.Load() {
		return nil, qerrors.ErrUseAfterZero
	}
	return b.data, nil
}

// Len returns the buffer length regardless of zero state.
func (b *Bytes) Len() int {
	return len(b.data)
}

// Label returns the buffer's debug label.
func (b *Bytes) Label() string {
	return b.label
}

// Zero performs the double-overwrite (random then zero) and removes the
// buffer from the live registry. Idempotent.
func (b *Bytes) Zero() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.zeroed.Load() {
		return
	}
	_, _ = rand.Read(b.data)
	for i := range b.data {
		b.data[i] = 0
	}
	runtime.KeepAlive(b.data)
	b.zeroed.Store(true)
	unregister(b)
}

// destroy is called via a finalizer as a last-resort safety net; it must
// never be the primary mechanism secrets rely on.
func destroy(b *Bytes) {
	if !b.zeroed.Load() {
		b.Zero()
	}
}

// Watch arms a finalizer that zeroizes the buffer if it is ever garbage
// collected without an explicit Zero call. While the buffer is registered
// (that is, until Zero) the registry keeps it reachable, so the finalizer
// does not run before then.
func (b *Bytes) Watch() {
	runtime.SetFinalizer(b, destroy)
}

// DestroyAll zeroizes every live SecureBytes in the process and returns the
// count wiped. Used for emergency teardown on detected compromise.
func DestroyAll() uint32 {
	var count uint32
	registry.Range(func(_, v interface{}) bool {
		b := v.(*Bytes)
		b.Zero()
		count++
		return true
	})
	return count
}

// LiveCount returns the number of currently registered (non-zeroed)
// SecureBytes instances. Intended for tests and diagnostics.
func LiveCount() int {
	n := 0
	registry.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
