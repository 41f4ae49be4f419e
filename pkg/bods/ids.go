// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package bods

import (
	"crypto/md5"
	"time"

	"github.com/google/uuid"
)

// Statement ID roles beyond the statement type names.
const (
	RoleVoided    = "voided"
	RoleVoidedOOC = "voided_ownershipOrControlStatement"
	RoleOwnership = "ownership"
)

// london is the publication timezone.
var london = func() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// StatementID derives a deterministic statement ID from seed and role. The
// MD5 digest of "{seed}-{role}" is laid out directly as the 16 bytes of a
// UUID; this is not RFC 4122 UUIDv3 and must stay byte-compatible with
// previously published statements.
func StatementID(seed, role string) string {
	sum := md5.Sum([]byte(seed + "-" + role))
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		// 16 bytes in, 16 bytes out; FromBytes only fails on bad length.
		panic(err)
	}
	return id.String()
}

// dateLayouts lists accepted source timestamp shapes, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatDate reduces a source timestamp to its YYYY-MM-DD date component.
// Unparseable input is returned unchanged so a malformed record surfaces in
// the output rather than silently shifting dates.
func FormatDate(value string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return value
}

// Today returns the current date in Europe/London.
func Today() string {
	return time.Now().In(london).Format("2006-01-02")
}
