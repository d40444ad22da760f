// Package utils formats page counts and sizes for output.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit represents the unit used for output
type Unit int

const (
	// UnitPage outputs values in pages
	UnitPage Unit = iota
	// UnitKB outputs values in KB
	UnitKB
	// UnitMB outputs values in MB
	UnitMB
	// UnitGB outputs values in GB
	UnitGB

	kebibyte = float64(1 << 10)
	mebibyte = float64(1 << 20)
	gebibyte = float64(1 << 30)
)

var unitNames = map[string]Unit{
	"page": UnitPage,
	"kb":   UnitKB,
	"mb":   UnitMB,
	"gb":   UnitGB,
}

// ParseUnit parses page, kb, mb or gb
func ParseUnit(s string) (Unit, error) {
	u, ok := unitNames[strings.ToLower(s)]
	if !ok {
		return UnitPage, fmt.Errorf("unknown unit: %q", s)
	}
	return u, nil
}

func (u Unit) String() string {
	switch u {
	case UnitPage:
		return "Pgs"
	case UnitKB:
		return "KB"
	case UnitMB:
		return "MB"
	case UnitGB:
		return "GB"
	}
	return "?"
}

func formatBytes(bytes float64, unit Unit) string {
	switch unit {
	case UnitKB:
		return strconv.FormatFloat(bytes/kebibyte, 'f', -1, 64)
	case UnitMB:
		return strconv.FormatFloat(bytes/mebibyte, 'f', 2, 64)
	case UnitGB:
		return strconv.FormatFloat(bytes/gebibyte, 'f', 2, 64)
	}
	return "?"
}

// FormatPageValue formats a page count in unit
func FormatPageValue(value int, unit Unit, pageSize int64) string {
	if unit == UnitPage {
		return strconv.Itoa(value) + unit.String()
	}
	return formatBytes(float64(int64(value)*pageSize), unit) + unit.String()
}

// FormatKBValue formats a size in KB in unit. Pages are counted with
// pageSize.
func FormatKBValue(value int64, unit Unit, pageSize int64) string {
	if unit == UnitPage {
		return strconv.FormatInt(value*1024/pageSize, 10) + unit.String()
	}
	return formatBytes(float64(value)*kebibyte, unit) + unit.String()
}
