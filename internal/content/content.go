// =============================================================================
// 文件: internal/content/content.go
// 描述: 活动内容 - FNV-1a 哈希、线程安全的当前内容、文件来源
// =============================================================================

package content

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/protocol"
)

// ErrTooLarge 文件超过 MaxFileSize
var ErrTooLarge = errors.New("content: 文件超过上限")

// Hash FNV-1a 32 位哈希
func Hash(b []byte) uint32 {
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32()
}

// Content 内容及其哈希，创建后不再修改
type Content struct {
	Data []byte
	Hash uint32
}

// New 拷贝 data 并计算哈希
func New(data []byte) Content {
	buf := append([]byte(nil), data...)
	return Content{Data: buf, Hash: Hash(buf)}
}

// Size 字节数
func (c Content) Size() int { return len(c.Data) }

func (c Content) String() string {
	return fmt.Sprintf("%08x (%s)", c.Hash, humanize.IBytes(uint64(len(c.Data))))
}

// =============================================================================
// Store
// =============================================================================

// Store 当前活动内容，读写加锁
type Store struct {
	mu  sync.RWMutex
	cur *Content
}

// NewStore 创建空 Store
func NewStore() *Store {
	return &Store{}
}

// Set 替换内容，返回新内容以及哈希是否变化
func (s *Store) Set(data []byte) (Content, bool) {
	c := New(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.cur == nil || s.cur.Hash != c.Hash || len(s.cur.Data) != len(c.Data)
	s.cur = &c
	return c, changed
}

// Snapshot 当前内容，没有内容时 ok 为 false
func (s *Store) Snapshot() (Content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return Content{}, false
	}
	return *s.cur, true
}

// Clear 清空内容
func (s *Store) Clear() {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
}

// =============================================================================
// FileSource
// =============================================================================

// FileSource 以磁盘文件作为活动内容，按大小和修改时间检测变化
type FileSource struct {
	path  string
	store *Store
	log   *logrus.Entry

	modTime time.Time
	size    int64
	loaded  bool
}

// NewFileSource 创建文件来源，需调用 Refresh 加载
func NewFileSource(path string, log *logrus.Entry) *FileSource {
	return &FileSource{
		path:  path,
		store: NewStore(),
		log:   log.WithField("component", "content"),
	}
}

// Path 文件路径
func (f *FileSource) Path() string { return f.path }

// Snapshot 当前内容
func (f *FileSource) Snapshot() (Content, bool) {
	return f.store.Snapshot()
}

// Refresh 文件有变化时重新加载并重算哈希
//
// 文件不存在时清空内容；超过上限时保留旧内容并返回 ErrTooLarge。
func (f *FileSource) Refresh() (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if f.loaded {
				f.store.Clear()
				f.loaded = false
				f.log.Info("活动文件已删除")
				return true, nil
			}
			return false, nil
		}
		return false, err
	}

	if f.loaded && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return false, nil
	}
	if info.Size() > protocol.MaxFileSize {
		return false, fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(info.Size())))
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return false, err
	}
	if len(data) > protocol.MaxFileSize {
		return false, fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(len(data))))
	}

	c, changed := f.store.Set(data)
	f.modTime = info.ModTime()
	f.size = info.Size()
	f.loaded = true
	if changed {
		f.log.Infof("活动文件已加载: %s hash=%s", f.path, c)
	}
	return changed, nil
}
