package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Cache stores compiled artifacts by key.
type Cache interface {
	Load(key Key) ([]byte, error)
	Store(key Key, artifact []byte) error
}

type MemoryConfig struct {
	// Type is one of: lfu, lru, arc or simple.
	Type string
	Size int
	// EntryTTL is the entry time-to-live, zero disables expiration.
	EntryTTL time.Duration
}

// NewMemory builds the in-process tier kept in front of the disk.
func NewMemory(conf MemoryConfig) (gcache.Cache, error) {
	if conf.Size <= 0 {
		return nil, fmt.Errorf("memory cache size must be > 0, but specified %v", conf.Size)
	}

	cacheBuilder := gcache.New(conf.Size)

	if conf.EntryTTL > 0 {
		cacheBuilder.Expiration(conf.EntryTTL)
	}

	switch conf.Type {
	case gcache.TYPE_LFU:
		cacheBuilder.LFU()
	case gcache.TYPE_ARC:
		cacheBuilder.ARC()
	case gcache.TYPE_LRU:
		cacheBuilder.LRU()
	case gcache.TYPE_SIMPLE:
		cacheBuilder.Simple()
	default:
		return nil, fmt.Errorf("unexpected cache type specified, expected types: [lfu, arc, lru, simple], but specified %s",
			conf.Type)
	}

	return cacheBuilder.Build(), nil
}

// FileSystemCache keeps one file per artifact under a single directory:
// <dir>/<key hex>.<extension>.
type FileSystemCache struct {
	dir       string
	extension string
	memory    gcache.Cache
}

func NewFileSystemCache(dir string) (*FileSystemCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create cache directory %s", dir)
	}

	return &FileSystemCache{dir: dir}, nil
}

// SetExtension sets the file extension of new and looked up entries.
func (c *FileSystemCache) SetExtension(extension string) {
	c.extension = extension
}

// SetMemory puts an in-process cache in front of the disk.
func (c *FileSystemCache) SetMemory(memory gcache.Cache) {
	c.memory = memory
}

func (c *FileSystemCache) Dir() string {
	return c.dir
}

func (c *FileSystemCache) Path(key Key) string {
	name := key.Encoded()
	if c.extension != "" {
		name += "." + c.extension
	}

	return filepath.Join(c.dir, name)
}

func (c *FileSystemCache) Load(key Key) ([]byte, error) {
	path := c.Path(key)

	if c.memory != nil {
		if artifact, err := c.memory.Get(path); err == nil {
			return artifact.([]byte), nil
		}
	}

	artifact, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s", key)
		}

		return nil, errors.Wrapf(err, "unable to read cache entry %s", path)
	}

	if c.memory != nil {
		_ = c.memory.Set(path, artifact)
	}

	return artifact, nil
}

// Store writes artifact under key, replacing any previous entry. Entries
// are renamed into place so concurrent readers never observe a partial file.
func (c *FileSystemCache) Store(key Key, artifact []byte) error {
	path := c.Path(key)

	tmp, err := os.CreateTemp(c.dir, ".tmp-"+key.Encoded()+"-*")
	if err != nil {
		return errors.Wrapf(err, "unable to create cache entry for %s", key)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(artifact); err != nil {
		tmp.Close()

		return errors.Wrapf(err, "unable to write cache entry %s", tmpPath)
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "unable to write cache entry %s", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "unable to store cache entry %s", path)
	}

	if c.memory != nil {
		if err := c.memory.Set(path, artifact); err != nil {
			return errors.Wrapf(err, "unable to cache entry %s in memory", path)
		}
	}

	return nil
}
