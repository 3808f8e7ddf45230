// Package validate implements the per-row validation contract described in
// spec.md §4.H and §6/§7: a small declarative schema of per-column rules,
// applied to every admitted row, with rejected rows logged to a CSV error
// log and counted by rule class.
package validate

import (
	"bufio"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// RuleType names the validation behavior applied to one column.
type RuleType int

const (
	// Ignore performs no validation on the column.
	Ignore RuleType = iota
	// URL requires the column, if non-empty, to parse as an absolute URL
	// (a scheme and, ordinarily, a host) rather than merely a valid
	// relative reference, which net/url.Parse accepts for almost any
	// string.
	URL
	// Protocol requires the column, if non-empty, to contain "://".
	Protocol
)

// ColumnRule binds a column name (used only for diagnostics) to a rule.
type ColumnRule struct {
	Name string
	Type RuleType
}

// detailSuppressLimit is the per-category threshold past which the error
// log stops recording detail lines, though counters keep incrementing.
// spec.md §6 and the "Open Questions" resolution in §9 are explicit that
// this applies per category, not in aggregate.
const detailSuppressLimit = 5000

// Validator applies a fixed schema of ColumnRules to rows, tallying
// failures by rule class and writing a BOM-prefixed CSV error log.
type Validator struct {
	rules []ColumnRule

	logFile *os.File
	log     *bufio.Writer

	TotalRows             uint64
	FailedURLErrorCount   uint64
	FailedProtocolErrCount uint64
}

// New opens errorLogPath (truncating any existing file) and writes the
// BOM + header line described in spec.md §6.
func New(schema []ColumnRule, errorLogPath string) (*Validator, error) {
	f, err := os.Create(errorLogPath)
	if err != nil {
		return nil, errors.Wrap(err, "validate: create error log")
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "validate: write BOM")
	}
	if _, err := w.WriteString("Error Message,Row,Column\n"); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "validate: write header")
	}
	return &Validator{rules: schema, logFile: f, log: w}, nil
}

// Close flushes and closes the error log. Safe to call on a nil Validator.
func (v *Validator) Close() error {
	if v == nil {
		return nil
	}
	if err := v.log.Flush(); err != nil {
		v.logFile.Close()
		return errors.Wrap(err, "validate: flush error log")
	}
	return errors.Wrap(v.logFile.Close(), "validate: close error log")
}

// ValidateRow applies the schema to row (admission position rowNumber,
// 1-based for the error log) and reports whether the row is accepted.
func (v *Validator) ValidateRow(row []string, rowNumber uint64) (accepted bool, err error) {
	var failedURL, failedProtocol bool

	for colIdx, rule := range v.rules {
		if colIdx >= len(row) {
			continue
		}
		field := row[colIdx]

		switch rule.Type {
		case Ignore:
			continue
		case URL:
			if failedURL || field == "" {
				continue
			}
			if u, perr := url.Parse(field); perr != nil || !u.IsAbs() {
				failedURL = true
				if err := v.logDetail(v.FailedURLErrorCount, field+" does not include a valid domain", rowNumber, colIdx+1); err != nil {
					return false, err
				}
			}
		case Protocol:
			if failedProtocol || field == "" {
				continue
			}
			if !strings.Contains(field, "://") {
				failedProtocol = true
				if err := v.logDetail(v.FailedProtocolErrCount, field+" does not include a valid link protocol", rowNumber, colIdx+1); err != nil {
					return false, err
				}
			}
		}
	}

	if failedURL {
		v.FailedURLErrorCount++
	}
	if failedProtocol {
		v.FailedProtocolErrCount++
	}
	v.TotalRows++

	return !failedURL && !failedProtocol, nil
}

// logDetail writes one error-log line unless currentCount has already
// crossed the per-category suppression threshold.
func (v *Validator) logDetail(currentCount uint64, message string, rowNumber uint64, column int) error {
	if currentCount >= detailSuppressLimit {
		return nil
	}
	_, err := v.log.WriteString(csvLine(message, rowNumber, column))
	return errors.Wrap(err, "validate: write error log line")
}

func csvLine(message string, rowNumber uint64, column int) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteByte(',')
	writeUint(&b, rowNumber)
	b.WriteByte(',')
	writeUint(&b, uint64(column))
	b.WriteByte('\n')
	return b.String()
}

func writeUint(b *strings.Builder, v uint64) {
	if v == 0 {
		b.WriteByte('0')
		return
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(buf[i:])
}
