// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package transform

import (
	"fmt"
	"strings"

	"github.com/pariz/gountries"
)

var countries = gountries.New()

// JurisdictionName resolves an ISO 3166 code to a display name. Subdivision
// codes ("GB-SCT") resolve to "{subdivision}, {country}". Unknown codes come
// back unchanged so bad source data stays visible.
func JurisdictionName(code string) string {
	if idx := strings.Index(code, "-"); idx >= 0 {
		country, err := countries.FindCountryByAlpha(code[:idx])
		if err != nil {
			return code
		}
		for _, sub := range country.SubDivisions() {
			if strings.EqualFold(sub.Code, code[idx+1:]) {
				return fmt.Sprintf("%s, %s", sub.Name, country.Name.Common)
			}
		}
		return code
	}
	country, err := countries.FindCountryByAlpha(code)
	if err != nil {
		return code
	}
	return country.Name.Common
}
