// Command genrows generates synthetic CSV rows for exercising the sort
// engine at scale, adapted from the teacher's producer: a pool of
// generator goroutines feeding a single writer, batched either to a CSV
// file or to a Kafka topic for kafkasource to consume.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	gokafka "github.com/segmentio/kafka-go"

	"github.com/movableink/csvutils-go/internal/genrecord"
	"github.com/movableink/csvutils-go/internal/kafkasource"
)

const queueSize = 10_000

func main() {
	if len(os.Args) < 3 {
		log.Error.Printf("usage: genrows <count> <output.csv>")
		os.Exit(1)
	}
	count, err := strconv.Atoi(os.Args[1])
	if err != nil || count <= 0 {
		log.Error.Printf("genrows: invalid count %q", os.Args[1])
		os.Exit(1)
	}
	outputPath := os.Args[2]

	pprofAddr := getenv("PPROF_ADDR", "0.0.0.0:6062")
	go func() {
		log.Printf("genrows: pprof listening on %s", pprofAddr)
		log.Error.Printf("genrows: pprof server stopped: %v", http.ListenAndServe(pprofAddr, nil))
	}()

	jobs := make(chan struct{}, queueSize)
	rows := make(chan []string, queueSize)
	numWorkers := runtime.NumCPU()

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range jobs {
				rows <- genrecord.GenerateRow(rng)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	go func() {
		for i := 0; i < count; i++ {
			jobs <- struct{}{}
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(rows)
	}()

	start := time.Now()
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		if err := writeToKafka(rows, brokers, getenv("SOURCE_TOPIC", "source")); err != nil {
			log.Error.Printf("genrows: kafka write: %v", err)
			os.Exit(1)
		}
	} else {
		if err := writeToFile(rows, outputPath); err != nil {
			log.Error.Printf("genrows: file write: %v", err)
			os.Exit(1)
		}
	}
	log.Printf("genrows: generated %d rows in %v", count, time.Since(start))
}

func writeToFile(rows <-chan []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeToKafka(rows <-chan []string, brokers, topic string) error {
	writer := kafkasource.NewWriter([]string{brokers}, topic)
	defer writer.Close()

	ctx := context.Background()
	batch := make([]gokafka.Message, 0, 1000)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := writer.WriteMessages(ctx, batch...); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for row := range rows {
		value, err := encodeCSVRow(row)
		if err != nil {
			return err
		}
		batch = append(batch, gokafka.Message{Value: value})
		if len(batch) >= cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// encodeCSVRow renders row as a single CSV-encoded line, the wire format
// kafkasource.decodeRow expects per Kafka message value.
func encodeCSVRow(row []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
