// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package gleif

import (
	"encoding/xml"
	"io"
)

// Header is the golden-copy file header. ContentDate is stamped onto every
// reporting exception parsed from the file.
type Header struct {
	ContentDate string `xml:"ContentDate"`
	Originator  string `xml:"Originator"`
	RecordCount int64  `xml:"RecordCount"`
}

// recordElements maps a record kind to the XML element wrapping each record.
var recordElements = map[Kind]string{
	KindLEI:          "LEIRecord",
	KindRelationship: "RelationshipRecord",
	KindException:    "Exception",
}

// DocumentReader streams records out of a golden-copy XML file without
// holding the document in memory. Files run to millions of records.
type DocumentReader struct {
	kind    Kind
	element string
	decoder *xml.Decoder
	header  Header
}

// NewDocumentReader returns a reader for a golden-copy file of the given
// kind.
func NewDocumentReader(r io.Reader, kind Kind) (*DocumentReader, error) {
	element, ok := recordElements[kind]
	if !ok {
		return nil, Error.New("unknown record kind %q", kind)
	}
	return &DocumentReader{
		kind:    kind,
		element: element,
		decoder: xml.NewDecoder(r),
	}, nil
}

// Header returns the file header. It is populated once the header element
// has been passed, which happens before the first record is returned.
func (r *DocumentReader) Header() Header { return r.header }

// Next returns the next record in the file, or io.EOF when the file is
// exhausted.
func (r *DocumentReader) Next() (Record, error) {
	for {
		tok, err := r.decoder.Token()
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if err != nil {
			return Record{}, Error.Wrap(err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		// the LEI-CDF schema wraps the header as LEIHeader, the others as Header
		case "Header", "LEIHeader":
			if err := r.decoder.DecodeElement(&r.header, &start); err != nil {
				return Record{}, Error.Wrap(err)
			}
		case r.element:
			return r.decodeRecord(&start)
		}
	}
}

func (r *DocumentReader) decodeRecord(start *xml.StartElement) (Record, error) {
	rec := Record{Kind: r.kind}
	switch r.kind {
	case KindLEI:
		var lei LEIRecord
		if err := r.decoder.DecodeElement(&lei, start); err != nil {
			return Record{}, Error.Wrap(err)
		}
		rec.LEI = &lei
	case KindRelationship:
		var rr RelationshipRecord
		if err := r.decoder.DecodeElement(&rr, start); err != nil {
			return Record{}, Error.Wrap(err)
		}
		if rr.Extension != nil && rr.Extension.empty() {
			rr.Extension = nil
		}
		rec.Relationship = &rr
	case KindException:
		var repex ReportingException
		if err := r.decoder.DecodeElement(&repex, start); err != nil {
			return Record{}, Error.Wrap(err)
		}
		if repex.Extension != nil && repex.Extension.empty() {
			repex.Extension = nil
		}
		repex.ContentDate = r.header.ContentDate
		rec.Exception = &repex
	}
	return rec, nil
}
