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

// Command turbocharger runs the Jetstream hydration pipeline: it reads
// posts off a Bluesky Jetstream websocket, enriches each one with the
// author profile, mentioned-user profiles and referenced posts, and
// writes the result to durable local storage, object storage and a
// Redis Stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/graze-social/turbocharger/internal/hydrator"
	"github.com/graze-social/turbocharger/internal/metrics"
	"github.com/graze-social/turbocharger/internal/pipeline"
	"github.com/graze-social/turbocharger/pkg/blueskyapi"
	"github.com/graze-social/turbocharger/pkg/config"
	"github.com/graze-social/turbocharger/pkg/credsource"
	"github.com/graze-social/turbocharger/pkg/jetstream"
	"github.com/graze-social/turbocharger/pkg/sink"
	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "turbocharger",
	Short:         "Hydrate a Bluesky Jetstream feed with authors, mentions and referenced posts",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the turbocharger config file")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "turbocharger:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errs.WrapMsg(err, "load config", "path", configPath)
	}

	creds := credsource.New(cfg.Bluesky.CredentialAPIBaseURL, cfg.Bluesky.CredentialSecret)
	sessionStrings, err := creds.FetchSessionStrings(ctx)
	if err != nil {
		return errs.WrapMsg(err, "fetch session strings")
	}

	bandwidth := cfg.Bluesky.PoolBandwidth
	if bandwidth <= 0 {
		bandwidth = blueskyapi.DefaultBandwidth
	}
	pool, err := blueskyapi.LoadPool(ctx, sessionStrings, bandwidth)
	if err != nil {
		return errs.WrapMsg(err, "load bluesky client pool")
	}
	log.ZInfo(ctx, "bluesky client pool ready", "clients", pool.Len())

	s3Client, err := sink.NewS3Client(ctx, sink.S3Options{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return errs.WrapMsg(err, "build s3 client")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	theSink := sink.New(sink.Config{
		DBDir:            cfg.Sink.DBDir,
		RotationInterval: cfg.Sink.RotationInterval,
		S3Bucket:         cfg.Sink.S3Bucket,
		StreamName:       cfg.Sink.StreamName,
		StreamTrimMaxLen: cfg.Sink.StreamTrimMaxLen,
	}, s3Client, redisClient)
	defer theSink.Close()

	hc := hydrator.NewHydrationContext(cfg.Cache.ProfileCacheSize, cfg.Cache.PostCacheSize)
	source := jetstream.New(cfg.Jetstream.Endpoint, cfg.Jetstream.WantedCollections)
	driver := pipeline.NewDriver(hc, pool, theSink, cfg.PipelineDriverConfig())

	if cfg.Metrics.Enable {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenOn); err != nil {
				log.ZError(ctx, "metrics server stopped", err)
			}
		}()
	}

	log.ZInfo(ctx, "starting turbocharger", "endpoint", cfg.Jetstream.Endpoint, "modulo", cfg.Pipeline.Modulo, "shard", cfg.Pipeline.Shard)
	if err := driver.Run(ctx, source); err != nil {
		if ctx.Err() != nil {
			log.ZInfo(ctx, "shutdown requested, drained in-flight batches")
			return nil
		}
		return errs.WrapMsg(err, "pipeline run")
	}
	return nil
}
