package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProductRef is an opaque catalog reference. The catalog accepts both
// numeric ids and SKUs, so the JSON form is an integer when the reference
// is a canonical base-10 integer and a string otherwise.
type ProductRef string

func (p ProductRef) String() string {
	return string(p)
}

func (p ProductRef) IsZero() bool {
	return strings.TrimSpace(string(p)) == ""
}

func (p ProductRef) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(p), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(p) {
		return []byte(string(p)), nil
	}
	return json.Marshal(string(p))
}

func (p *ProductRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*p = ""
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProductRef(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product_id must be a string or an integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("product_id must be a string or an integer, got %s", n)
	}
	*p = ProductRef(n.String())
	return nil
}
