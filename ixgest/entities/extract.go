// Package entities extracts capitalized-word named entities from text files
// and folds the results into the counter store.
//
// The pipeline has two stages, each triggered by an object landing in a bucket:
//
//	source bucket: raw text  --extract-->  tags bucket: <base>ne.txt
//	tags bucket:  <base>ne.txt  --aggregate-->  counter store
package entities

import (
	"path"
	"regexp"
	"strings"
)

// entityPattern matches a word that starts with an uppercase ASCII letter.
var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]*\b`)

const (
	// ArtifactSuffix is appended to a file's base name to name its artifact.
	ArtifactSuffix = "ne"

	// ArtifactExt is the object key extension of an artifact.
	ArtifactExt = ".txt"
)

// Mapping is one file's extraction result: entity name to provisional count.
type Mapping map[string]int64

// Extract returns every distinct entity in text mapped to 1. Repeats within the
// same text collapse to one key. No case folding, no stopwords.
func Extract(text string) Mapping {
	out := make(Mapping)
	for _, m := range entityPattern.FindAllString(text, -1) {
		out[m] = 1
	}
	return out
}

// ArtifactName derives the artifact name for an object key: the base name
// without directory or extension, plus "ne". "docs/paris.txt" gives "parisne".
func ArtifactName(objectKey string) string {
	base := path.Base(strings.ReplaceAll(objectKey, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + ArtifactSuffix
}

// ArtifactKey is the tags-bucket key an artifact is stored under.
func ArtifactKey(name string) string { return name + ArtifactExt }
