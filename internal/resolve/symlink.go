package resolve

import (
	"path/filepath"
	"sync"
)

// symlinkCache memoizes symlink resolution, mirroring the mutex-guarded
// memoization cache in the teacher's internal/build/glob.go (there keyed by
// package name, here keyed by filesystem path).
type symlinkCache struct {
	mu    sync.Mutex
	cache map[string]string
}

// resolve returns the symlink-resolved form of path, memoized. ok is false
// only if resolution failed (e.g. the path doesn't exist); callers should
// fall back to the original path in that case.
func (c *symlinkCache) resolve(path string) (resolved string, ok bool) {
	c.mu.Lock()
	if r, hit := c.cache[path]; hit {
		c.mu.Unlock()
		return r, true
	}
	c.mu.Unlock()

	r, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}

	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]string)
	}
	c.cache[path] = r
	c.mu.Unlock()
	return r, true
}
