// Package scripts embeds the SQL shipped with the binary.
package scripts

import (
	"embed"
	"fmt"
)

//go:embed *.sql
var files embed.FS

// ObservationDDL returns the observation table script for a sink dialect.
func ObservationDDL(dialect string) (string, error) {
	b, err := files.ReadFile("create_table_observation_" + dialect + ".sql")
	if err != nil {
		return "", fmt.Errorf("no observation DDL for dialect %q: %w", dialect, err)
	}
	return string(b), nil
}
