// Package protocol defines the NDJSON records written to period logs.
// Field names are consumed by external map viewers and must not change.
package protocol

import (
	"strconv"
	"strings"
	"time"
)

const (
	TypeItem       = "item"
	TypeItemRemove = "item_remove"

	// TimestampLayout is the UTC pass timestamp written in every record.
	TimestampLayout = "2006-01-02T15:04:05"
)

type Pos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ItemRecord struct {
	Type        string  `json:"type"`
	Snapshot    bool    `json:"snapshot,omitempty"`
	World       string  `json:"world"`
	WorldSize   float64 `json:"worldSize"`
	TS          string  `json:"ts"`
	ID          string  `json:"id"`
	Class       string  `json:"class"`
	Name        string  `json:"name"`
	HP          float64 `json:"hp"`
	HPPercent   int     `json:"hp_percent"`
	Qty         int     `json:"qty"`
	Pos         Pos     `json:"pos"`
	HolderClass string  `json:"holder_class"`
	HolderID    string  `json:"holder_id"`
	Sig         string  `json:"sig,omitempty"`
}

type RemoveRecord struct {
	Type      string  `json:"type"`
	World     string  `json:"world"`
	WorldSize float64 `json:"worldSize"`
	TS        string  `json:"ts"`
	ID        string  `json:"id"`
}

// Signature is the compact class|hpPct|qty key viewers use to dedupe rows.
func Signature(class string, hpPct, qty int) string {
	return class + "|" + strconv.Itoa(hpPct) + "|" + strconv.Itoa(qty)
}

var safeTextReplacer = strings.NewReplacer(`"`, "'", "\n", " ", "\r", " ")

// SafeText keeps display names on one line and free of double quotes, which
// older viewers split on.
func SafeText(s string) string {
	if s == "" {
		return s
	}
	return safeTextReplacer.Replace(s)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
