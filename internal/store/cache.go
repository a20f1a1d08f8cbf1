// =============================================================================
// 文件: internal/store/cache.go
// 描述: 客户端内容缓存 - badger 持久化最近一次同步的内容与哈希
// =============================================================================
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/mrcgq/zhc/internal/content"
)

var (
	keyData = []byte("content/data")
	keyHash = []byte("content/hash")
)

// Cache 内容缓存，并发安全
type Cache struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open 打开目录下的缓存
func Open(dir string, log *logrus.Entry) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("缓存目录为空")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true
	return open(opts, log)
}

// OpenInMemory 内存缓存，进程退出后丢失
func OpenInMemory(log *logrus.Entry) (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, log)
}

func open(opts badger.Options, log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开缓存失败: %w", err)
	}
	return &Cache{db: db, log: log.WithField("component", "cache")}, nil
}

// Save 写入内容，数据与哈希在同一事务中替换
func (c *Cache) Save(ct content.Content) error {
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], ct.Hash)

	err := c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyData, ct.Data); err != nil {
			return err
		}
		return txn.Set(keyHash, hb[:])
	})
	if err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	c.log.Debugf("已缓存内容: %s", ct)
	return nil
}

// Load 读取缓存内容
//
// 没有缓存时 ok 为 false。存储的哈希与数据不符时视为没有缓存。
func (c *Cache) Load() (ct content.Content, ok bool, err error) {
	var data []byte
	var stored uint32

	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHash)
		if err != nil {
			return err
		}
		hb, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(hb) != 4 {
			return fmt.Errorf("哈希长度错误: %d", len(hb))
		}
		stored = binary.BigEndian.Uint32(hb)

		item, err = txn.Get(keyData)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return content.Content{}, false, nil
	}
	if err != nil {
		return content.Content{}, false, fmt.Errorf("读取缓存失败: %w", err)
	}

	ct = content.New(data)
	if ct.Hash != stored {
		c.log.Warnf("缓存内容校验失败 (存储=%08x, 实际=%08x)，忽略", stored, ct.Hash)
		return content.Content{}, false, nil
	}
	return ct, true, nil
}

// Clear 删除缓存内容
func (c *Cache) Clear() error {
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(keyData); err != nil {
			return err
		}
		return txn.Delete(keyHash)
	})
}

// Close 关闭缓存
func (c *Cache) Close() error {
	return c.db.Close()
}
