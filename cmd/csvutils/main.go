// Command csvutils reads a CSV feed, validates it, derives targeting
// keys, sorts under a bounded memory budget, caps rows per key, and
// writes a PostgreSQL binary-COPY file. It stands in for the host
// scripting-runtime embedding spec.md treats as out of scope.
package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"

	"github.com/movableink/csvutils-go/internal/engine"
	"github.com/movableink/csvutils-go/internal/kafkasource"
	"github.com/movableink/csvutils-go/internal/validate"
)

func main() {
	if len(os.Args) < 3 {
		log.Error.Printf("usage: csvutils <input.csv> <output.bin> (or set KAFKA_BROKERS to consume a topic instead of <input.csv>)")
		os.Exit(1)
	}
	inputPath, outputPath := os.Args[1], os.Args[2]

	sourceKey := getenv("SOURCE_KEY", "default")
	keyColumns := parseIntList(getenv("KEY_COLUMNS", "0"))
	latIdx := parseIntOrDefault(getenv("LAT_COLUMN", ""), -1)
	lonIdx := parseIntOrDefault(getenv("LON_COLUMN", ""), -1)
	budgetMiB := parseIntOrDefault(getenv("MEMORY_BUDGET_MIB", ""), 64)
	maxPerKey := parseIntOrDefault(getenv("MAX_PER_KEY", ""), 200)
	verbose := getenv("VERBOSE", "") != ""

	var g errgroup.Group
	pprofAddr := getenv("PPROF_ADDR", "0.0.0.0:6060")
	g.Go(func() error {
		log.Printf("csvutils: pprof listening on %s", pprofAddr)
		return http.ListenAndServe(pprofAddr, nil)
	})
	go func() {
		if err := g.Wait(); err != nil {
			log.Error.Printf("csvutils: pprof server stopped: %v", err)
		}
	}()

	s, err := engine.Open(
		engine.WithSourceID([]byte(sourceKey)),
		engine.WithSourceKey(sourceKey),
		engine.WithKeyColumns(keyColumns),
		engine.WithGeometryColumns(latIdx, lonIdx),
		engine.WithMemoryBudgetMiB(budgetMiB),
		engine.WithMaxPerKey(maxPerKey),
		engine.WithVerbose(verbose),
	)
	if err != nil {
		log.Error.Printf("csvutils: open session: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	if schemaSpec := getenv("VALIDATION_SCHEMA", ""); schemaSpec != "" {
		schema, err := parseValidationSchema(schemaSpec)
		if err != nil {
			log.Error.Printf("csvutils: validation schema: %v", err)
			os.Exit(1)
		}
		errorLog := getenv("VALIDATION_ERROR_LOG", outputPath+".errors.csv")
		if err := s.EnableValidation(schema, errorLog); err != nil {
			log.Error.Printf("csvutils: enable validation: %v", err)
			os.Exit(1)
		}
	}

	start := time.Now()
	if brokers := getenv("KAFKA_BROKERS", ""); brokers != "" {
		topic := getenv("SOURCE_TOPIC", "source")
		groupID := getenv("KAFKA_GROUP_ID", "csvutils")
		reader := kafkasource.NewReader([]string{brokers}, topic, groupID)
		addErr := s.AddFromKafka(context.Background(), reader)
		if closeErr := reader.Close(); closeErr != nil {
			log.Error.Printf("csvutils: close kafka reader: %v", closeErr)
		}
		if addErr != nil {
			log.Error.Printf("csvutils: add from kafka: %v", addErr)
			os.Exit(1)
		}
	} else if err := s.AddFile(inputPath); err != nil {
		log.Error.Printf("csvutils: add file: %v", err)
		os.Exit(1)
	}

	summary, err := s.Sort()
	if err != nil {
		log.Error.Printf("csvutils: sort: %v", err)
		os.Exit(1)
	}
	log.Printf("csvutils: sorted %d rows across %d run files in %v (max_row_memory_usage=%d)",
		summary.TotalRows, summary.FileCount, time.Since(start), summary.MaxRowMemoryUsage)
	for category, message := range summary.FirstErrors {
		log.Error.Printf("csvutils: first %s error: %s", category, message)
	}

	if err := s.WriteBinaryPostgresFile(outputPath); err != nil {
		log.Error.Printf("csvutils: write output: %v", err)
		os.Exit(1)
	}
	log.Printf("csvutils: wrote %s", outputPath)
}

// parseValidationSchema parses "name:type,name:type,..." (type one of
// ignore, url, protocol) into an ordered ColumnRule list.
func parseValidationSchema(spec string) ([]validate.ColumnRule, error) {
	var schema []validate.ColumnRule
	for _, field := range strings.Split(spec, ",") {
		parts := strings.SplitN(field, ":", 2)
		name := parts[0]
		ruleName := "ignore"
		if len(parts) == 2 {
			ruleName = parts[1]
		}
		var ruleType validate.RuleType
		switch ruleName {
		case "ignore", "":
			ruleType = validate.Ignore
		case "url":
			ruleType = validate.URL
		case "protocol":
			ruleType = validate.Protocol
		default:
			return nil, &unknownRuleError{ruleName}
		}
		schema = append(schema, validate.ColumnRule{Name: name, Type: ruleType})
	}
	return schema, nil
}

type unknownRuleError struct{ name string }

func (e *unknownRuleError) Error() string { return "unknown validation rule: " + e.name }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseIntList(s string) []int {
	var cols []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			cols = append(cols, n)
		}
	}
	return cols
}

func parseIntOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
