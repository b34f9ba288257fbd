package device

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// FileDevice
// --------------------------------------------------------------------------

// FileDevice persists frames to a single file. Each operation runs on its
// own goroutine; Close waits for in-flight operations to settle before
// closing the file.
type FileDevice struct {
	f      *os.File
	path   string
	begin  atomic.Uint64
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ Device = (*FileDevice)(nil)

// NewFileDevice opens (creating if needed) the file at path.
func NewFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	return &FileDevice{f: f, path: path}, nil
}

func (d *FileDevice) ReadAsync(source uint64, dest []byte, cb CompletionFunc) {
	if d.closed.Load() {
		cb(ErrClosed, 0)
		return
	}
	if source < d.begin.Load() {
		cb(ErrOutOfRange, 0)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		n, err := d.f.ReadAt(dest, int64(source))
		if err != nil {
			cb(err, 0)
			return
		}
		cb(nil, uint32(n))
	}()
}

func (d *FileDevice) WriteAsync(src []byte, dest uint64, cb CompletionFunc) {
	if d.closed.Load() {
		cb(ErrClosed, 0)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		n, err := d.f.WriteAt(src, int64(dest))
		if err != nil {
			cb(err, 0)
			return
		}
		cb(nil, uint32(n))
	}()
}

func (d *FileDevice) Alignment() uint32 { return 1 }

// Truncate raises the begin offset. File bytes below it are kept on disk
// but become unreadable through the device.
func (d *FileDevice) Truncate(newBegin uint64, cb CompletionFunc) {
	if d.closed.Load() {
		cb(ErrClosed, 0)
		return
	}
	for {
		cur := d.begin.Load()
		if newBegin <= cur || d.begin.CompareAndSwap(cur, newBegin) {
			break
		}
	}
	cb(nil, 0)
}

func (d *FileDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.wg.Wait()
	return d.f.Close()
}

// Delete closes the device and removes its backing file.
func (d *FileDevice) Delete() error {
	if err := d.Close(); err != nil {
		return err
	}
	return os.Remove(d.path)
}
