package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/John-Robertt/copykill/internal/domain"
)

// 帧格式（大端）：
//
//	magic[4] | version u16 | xxhash64(payload) u64 | payload(gob)
//
// 任何不一致（截断/空/魔数/版本/校验和/root 不匹配）都归为 ErrCacheCorrupt。
const (
	frameMagic    = "CK2C"
	SchemaVersion = uint16(1)
	headerLen     = len(frameMagic) + 2 + 8
)

type payload struct {
	Root      string
	CreatedAt time.Time
	Records   []record
}

type record struct {
	Dir     string
	Name    string
	Size    uint64
	ModTime int64 // UnixNano
	Dev     uint64
	Ino     uint64
	Digest  []byte // nil 表示未计算
}

// Encode 把 buckets 编码为带版本的二进制帧。记录按桶内顺序依次写出，Decode 后顺序不变。
func Encode(root string, buckets domain.SizeBuckets, now time.Time) ([]byte, error) {
	p := payload{
		Root:      filepath.Clean(root),
		CreatedAt: now.UTC(),
		Records:   make([]record, 0, buckets.FileCount()),
	}
	for _, files := range buckets {
		for _, f := range files {
			rec := record{
				Dir:     f.Dir,
				Name:    f.Name,
				Size:    f.Size,
				ModTime: f.ModTime.UnixNano(),
				Dev:     f.Dev,
				Ino:     f.Ino,
			}
			if f.Digest != nil {
				rec.Digest = append([]byte(nil), f.Digest[:]...)
			}
			p.Records = append(p.Records, rec)
		}
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(&p); err != nil {
		return nil, err
	}

	out := make([]byte, headerLen, headerLen+body.Len())
	copy(out, frameMagic)
	binary.BigEndian.PutUint16(out[4:], SchemaVersion)
	binary.BigEndian.PutUint64(out[6:], xxhash.Sum64(body.Bytes()))
	return append(out, body.Bytes()...), nil
}

// Decode 解析 Encode 的输出；root 必须与写入时一致。
func Decode(root string, b []byte) (domain.SizeBuckets, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%w: 文件过短（%d 字节）", domain.ErrCacheCorrupt, len(b))
	}
	if string(b[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: 魔数不匹配", domain.ErrCacheCorrupt)
	}
	if v := binary.BigEndian.Uint16(b[4:]); v != SchemaVersion {
		return nil, fmt.Errorf("%w: schema 版本 %d，期望 %d", domain.ErrCacheCorrupt, v, SchemaVersion)
	}
	body := b[headerLen:]
	if sum := binary.BigEndian.Uint64(b[6:]); sum != xxhash.Sum64(body) {
		return nil, fmt.Errorf("%w: 校验和不匹配", domain.ErrCacheCorrupt)
	}

	var p payload
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorrupt, err)
	}
	if p.Root != filepath.Clean(root) {
		return nil, fmt.Errorf("%w: root 不匹配（%q != %q）", domain.ErrCacheCorrupt, p.Root, root)
	}

	buckets := make(domain.SizeBuckets, len(p.Records))
	for _, rec := range p.Records {
		f := &domain.FileRecord{
			Dir:     rec.Dir,
			Name:    rec.Name,
			Size:    rec.Size,
			ModTime: time.Unix(0, rec.ModTime).UTC(),
			Dev:     rec.Dev,
			Ino:     rec.Ino,
		}
		if len(rec.Digest) > 0 {
			var d domain.Digest
			if len(rec.Digest) != len(d) {
				return nil, fmt.Errorf("%w: 摘要长度 %d", domain.ErrCacheCorrupt, len(rec.Digest))
			}
			copy(d[:], rec.Digest)
			f.Digest = &d
		}
		buckets.Add(f)
	}
	return buckets, nil
}
