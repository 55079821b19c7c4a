// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they reach an
// external system.
//
// Bucket names and object prefixes passed to the publish command end up in
// Cloud Storage request paths. Rejecting them up front gives a clear error
// instead of an opaque 400 from the API, and keeps ".." segments out of
// object names.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// bucketPattern follows the Cloud Storage naming rules for non-domain
// buckets: 3-63 chars of lowercase letters, digits, '-', '_' and '.',
// starting and ending with a letter or digit.
var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)

// prefixSegment matches one "/"-separated piece of an object prefix.
var prefixSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateBucketName validates a Cloud Storage bucket name.
//
// Valid names:
//   - 3-63 characters
//   - Lowercase letters, digits, dashes, underscores and dots
//   - Start and end with a letter or digit
//   - No ".." and not prefixed with "goog"
func ValidateBucketName(bucket string) error {
	if bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if !bucketPattern.MatchString(bucket) {
		return fmt.Errorf("invalid bucket name: %q (must be 3-63 lowercase alphanumeric chars, dots, dashes or underscores)", bucket)
	}
	if strings.Contains(bucket, "..") {
		return fmt.Errorf("invalid bucket name: %q (consecutive dots)", bucket)
	}
	if strings.HasPrefix(bucket, "goog") {
		return fmt.Errorf("invalid bucket name: %q (reserved prefix)", bucket)
	}
	return nil
}

// SanitizeObjectPrefix normalizes and validates an object name prefix.
// Surrounding whitespace and slashes are trimmed. An empty prefix is valid
// and means the bucket root.
//
//	prefix, err := validation.SanitizeObjectPrefix(userInput)
//	if err != nil {
//	    return err
//	}
//	object := path.Join(prefix, name)
func SanitizeObjectPrefix(prefix string) (string, error) {
	normalized := strings.Trim(strings.TrimSpace(prefix), "/")
	if normalized == "" {
		return "", nil
	}
	if len(normalized) > 512 {
		return "", fmt.Errorf("object prefix too long: %d bytes", len(normalized))
	}
	var invalid []string
	for _, seg := range strings.Split(normalized, "/") {
		if seg == "." || seg == ".." || !prefixSegment.MatchString(seg) {
			invalid = append(invalid, seg)
		}
	}
	if len(invalid) > 0 {
		return "", fmt.Errorf("invalid object prefix %q: bad segments %q", prefix, invalid)
	}
	return normalized, nil
}
