// Package trigger turns object notifications into pipeline stage invocations.
//
// Notifications come from S3 event JSON, the filesystem bucket watcher, or the
// CLI. The Router picks the stage by bucket and either runs it inline or
// enqueues it as an async job.
package trigger

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
)

// s3Event is the subset of the S3 event notification document we read.
type s3Event struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventSource string `json:"eventSource"`
	EventName   string `json:"eventName"`
	S3          struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseEvent reads an S3 event notification and returns one Notification per
// usable record. Object keys arrive form-encoded ("my+file%21.txt") and are
// decoded ("my file!.txt").
//
// Malformed JSON is a *entities.ParseError. Records without a bucket or key,
// or with an undecodable key, are skipped.
func ParseEvent(body []byte) ([]objstore.Notification, error) {
	var ev s3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &entities.ParseError{Err: errors.Wrap(err, "event is not valid JSON")}
	}

	log := logger.Logger.Named("trigger")
	out := make([]objstore.Notification, 0, len(ev.Records))
	for i, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		rawKey := rec.S3.Object.Key
		if bucket == "" || rawKey == "" {
			log.Warnw("Skipping event record without bucket or key", "record", i, logger.FieldBucket, bucket)
			continue
		}
		key, err := DecodeKey(rawKey)
		if err != nil {
			log.Warnw("Skipping event record with undecodable key", "record", i, logger.FieldKey, rawKey, logger.FieldError, err)
			continue
		}
		out = append(out, objstore.Notification{Bucket: bucket, Key: key})
	}
	return out, nil
}

// DecodeKey reverses the form encoding S3 applies to keys in event records.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrapf(err, "invalid key encoding %q", raw)
	}
	return key, nil
}
