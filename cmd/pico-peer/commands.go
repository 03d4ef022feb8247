package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fabricionaweb/pico-share/metainfo"
	"github.com/fabricionaweb/pico-share/peer"
	"github.com/fabricionaweb/pico-share/transfer"
	"github.com/fabricionaweb/pico-share/workers"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const (
	drainTimeout     = 30 * time.Second
	progressInterval = 2 * time.Second
)

func (c config) trackerClient() *peer.TrackerClient {
	return &peer.TrackerClient{Addr: c.tracker, DialTimeout: c.timeout, IOTimeout: c.timeout}
}

// runSeed serves the file until ctx is canceled, then gives in-flight
// uploads a grace period to finish.
func runSeed(ctx context.Context, cfg config) error {
	path := cfg.args[0]

	s := peer.NewSeeder(peer.SeederConfig{
		Tracker:   cfg.trackerClient(),
		ChunkSize: int(cfg.chunkSize.Bytes()),
		IOTimeout: cfg.timeout,
		Policy:    workers.Limited(cfg.maxConns),
	})
	if err := s.Seed(ctx, path, cfg.port); err != nil {
		return err
	}

	if cfg.descriptor != "" {
		d, err := metainfo.New(path, cfg.tracker)
		if err != nil {
			s.Stop()
			return err
		}
		if err := metainfo.Write(cfg.descriptor, d); err != nil {
			s.Stop()
			return err
		}
		log.Info().Str("path", cfg.descriptor).Msg("descriptor written")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")
	s.Stop()

	drained := make(chan struct{})
	go func() {
		s.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("shutdown complete")
		return nil
	case <-time.After(drainTimeout):
		return xerrors.New("forcing shutdown after timeout, some uploads incomplete")
	}
}

func runPeers(ctx context.Context, cfg config, out io.Writer) error {
	d := &peer.Downloader{Tracker: cfg.trackerClient()}
	peers, err := d.ListPeers(ctx, cfg.args[0])
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Fprintf(out, "no peers seeding %s\n", cfg.args[0])
		return nil
	}
	for i, ep := range peers {
		fmt.Fprintf(out, "%d\t%s\n", i, ep)
	}
	return nil
}

func runGet(ctx context.Context, cfg config, out io.Writer) error {
	var desc *metainfo.Descriptor
	filename := ""
	if len(cfg.args) > 0 {
		filename = cfg.args[0]
	}
	if cfg.descriptor != "" {
		var err error
		if desc, err = metainfo.Read(cfg.descriptor); err != nil {
			return err
		}
		if filename != "" && filename != desc.Name {
			return xerrors.Errorf("descriptor describes %s, not %s", desc.Name, filename)
		}
		filename = desc.Name
		if !cfg.trackerSet && desc.Tracker != "" {
			cfg.tracker = desc.Tracker
		}
	}

	d := &peer.Downloader{
		Tracker:     cfg.trackerClient(),
		ChunkSize:   int(cfg.chunkSize.Bytes()),
		DialTimeout: cfg.timeout,
		IOTimeout:   cfg.timeout,
		KeepFailed:  cfg.keepFailed,
		Progress:    progressLogger(filename),
	}

	peers, err := d.ListPeers(ctx, filename)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return xerrors.Errorf("no peers seeding %s", filename)
	}
	if cfg.peerIndex >= len(peers) {
		return xerrors.Errorf("peer %d out of range, %d available", cfg.peerIndex, len(peers))
	}

	dest := cfg.output
	if dest == "" {
		dest = filepath.Base(filename)
	}

	endpoint := peers[cfg.peerIndex]
	var res *transfer.Result
	if desc != nil {
		res, err = d.Fetch(ctx, desc, endpoint, dest)
	} else {
		res, err = d.Download(ctx, filename, endpoint, dest)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\t%s\t%s\n", res.Path, humanize.IBytes(res.Size), hex.EncodeToString(res.Checksum))
	return nil
}

func runCreate(cfg config, out io.Writer) error {
	path := cfg.args[0]
	d, err := metainfo.New(path, cfg.tracker)
	if err != nil {
		return err
	}

	dest := cfg.output
	if dest == "" {
		dest = path + metainfo.Ext
	}
	if err := metainfo.Write(dest, d); err != nil {
		return err
	}

	//nolint:gosec // Length comes from a stat of a local file
	fmt.Fprintf(out, "%s\t%s\t%s\n", dest, humanize.IBytes(uint64(d.Length)), d.Checksum)
	return nil
}

// progressLogger reports download progress at most every progressInterval.
func progressLogger(filename string) func(done, total uint64) {
	var last time.Time
	return func(done, total uint64) {
		if done != total && time.Since(last) < progressInterval {
			return
		}
		last = time.Now()
		log.Info().
			Str("file", filename).
			Str("done", humanize.IBytes(done)).
			Str("total", humanize.IBytes(total)).
			Msg("downloading")
	}
}
