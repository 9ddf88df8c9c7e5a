package upload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/sym"
)

// Report summarizes one loader run.
type Report struct {
	Uploaded []string `json:"uploaded"`
	Skipped  []string `json:"skipped,omitempty"` // directories and other non-regular entries
}

// Loader uploads every regular file in a directory to Bucket, one at a time.
type Loader struct {
	Store  objstore.Store
	Bucket string
	Pacer  Pacer
	Logger *zap.SugaredLogger
}

// Run uploads the regular files of dir in name order, each under its base
// name. It stops at the first failure and returns what was uploaded so far.
func (l *Loader) Run(ctx context.Context, dir string) (Report, error) {
	var report Report
	log := l.Logger
	if log == nil {
		log = logger.Logger
	}
	log = log.Named("upload")
	pacer := l.Pacer
	if pacer == nil {
		pacer = NoPacer{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, errors.Wrapf(err, "failed to read %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	start := time.Now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}

		if err := pacer.Wait(ctx); err != nil {
			return report, errors.Wrap(err, "upload interrupted")
		}

		name := entry.Name()
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return report, errors.Wrapf(err, "failed to read %s", name)
		}
		if err := l.Store.Put(ctx, l.Bucket, name, body); err != nil {
			err = errors.Wrapf(err, "failed to upload %s", name)
			return report, errors.WithDetailf(err, "uploaded before failure: %d", len(report.Uploaded))
		}
		report.Uploaded = append(report.Uploaded, name)
		log.Infow(sym.UP+" Uploaded",
			logger.FieldBucket, l.Bucket,
			logger.FieldKey, name,
			"bytes", len(body))
	}

	log.Infow(sym.UP+" Upload complete",
		logger.FieldBucket, l.Bucket,
		logger.FieldCount, len(report.Uploaded),
		"skipped", len(report.Skipped),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return report, nil
}
