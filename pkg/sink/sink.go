// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sink implements the Sink collaborator (spec §6): a durable
// local embedded database, rotated on a wall-clock boundary and shipped
// to object storage, plus a downstream Redis Stream publish.
//
// Grounded on the teacher's msgtransfer Kafka-consumer → Mongo/Redis
// writer shape, and on original_source's Egress (SQLite rotation +
// zip + S3 + Redis XADD/XTRIM), rewritten around bbolt and the AT
// Protocol enriched-record shape.
package sink

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"

	"github.com/graze-social/turbocharger/internal/hydrator"
	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

var recordsBucket = []byte("records")

// DefaultRotationInterval matches the original's 1-minute db rotation.
const DefaultRotationInterval = time.Minute

// Config holds the sink's storage and messaging settings.
type Config struct {
	DBDir            string
	RotationInterval time.Duration
	S3Bucket         string
	StreamName       string
	StreamTrimMaxLen int64
}

// Sink is the concrete Sink implementation.
type Sink struct {
	cfg   Config
	s3    *s3.Client
	redis redis.UniversalClient

	mu      sync.Mutex
	db      *bbolt.DB
	dbPath  string
	dbStart time.Time

	shipWG sync.WaitGroup
}

// New builds a Sink. s3Client and redisClient are dependency-injected
// so tests can substitute fakes.
func New(cfg Config, s3Client *s3.Client, redisClient redis.UniversalClient) *Sink {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	return &Sink{cfg: cfg, s3: s3Client, redis: redisClient}
}

// Store persists a batch to the local embedded database (rotating it
// first if due) and publishes every record to the downstream Redis
// Stream. It returns the first error encountered; the core does not
// retry sink failures (spec §7.6).
func (s *Sink) Store(ctx context.Context, batch []hydrator.EnrichedRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.writeLocal(batch); err != nil {
		return errs.WrapMsg(err, "write local db")
	}
	if err := s.publishStream(ctx, batch); err != nil {
		return errs.WrapMsg(err, "publish to stream")
	}
	return nil
}

func (s *Sink) writeLocal(batch []hydrator.EnrichedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		if err := s.openNewDBLocked(); err != nil {
			return err
		}
	} else if time.Since(s.dbStart) >= s.cfg.RotationInterval {
		old := s.dbPath
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
		if err := s.openNewDBLocked(); err != nil {
			return err
		}
		s.shipWG.Add(1)
		go s.shipOldDB(old)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for _, rec := range batch {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *Sink) openNewDBLocked() error {
	if err := os.MkdirAll(s.cfg.DBDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("jetstream_%s.db", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.cfg.DBDir, name)
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		db.Close()
		return err
	}
	s.db = db
	s.dbPath = path
	s.dbStart = time.Now()
	return nil
}

// shipOldDB zips the rotated-out db file and uploads it to S3. It
// tracks completion with shipWG so Close can drain it, unlike the
// original's fire-and-forget upload task (spec §9 Open Question; this
// is the fix).
func (s *Sink) shipOldDB(path string) {
	defer s.shipWG.Done()
	ctx := context.Background()

	if _, err := os.Stat(path); err != nil {
		log.ZWarn(ctx, "rotated db not found, skipping upload", err, "path", path)
		return
	}

	zipPath := path + ".zip"
	if err := zipFile(path, zipPath); err != nil {
		log.ZError(ctx, "zip rotated db failed", err, "path", path)
		return
	}

	f, err := os.Open(zipPath)
	if err != nil {
		log.ZError(ctx, "open zipped db failed", err, "path", zipPath)
		return
	}
	defer f.Close()

	key := filepath.Base(zipPath)
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		// Leave both files on disk for manual re-ship (spec §7.8); do
		// not delete on a failed upload.
		log.ZError(ctx, "upload rotated db to s3 failed", err, "bucket", s.cfg.S3Bucket, "key", key)
		return
	}

	if err := os.Remove(path); err != nil {
		log.ZWarn(ctx, "failed to delete rotated db after upload", err, "path", path)
	}
	if err := os.Remove(zipPath); err != nil {
		log.ZWarn(ctx, "failed to delete zip after upload", err, "path", zipPath)
	}
}

func zipFile(src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(filepath.Base(src))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func (s *Sink) publishStream(ctx context.Context, batch []hydrator.EnrichedRecord) error {
	pipe := s.redis.Pipeline()
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.StreamName,
			Values: map[string]any{"data": data},
		})
	}
	if s.cfg.StreamTrimMaxLen > 0 {
		pipe.XTrimMaxLenApprox(ctx, s.cfg.StreamName, s.cfg.StreamTrimMaxLen)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close drains any in-flight upload and closes the current local db.
func (s *Sink) Close() error {
	s.shipWG.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
