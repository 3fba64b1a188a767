// Command parse-debug dumps what the log parser and the query extractor
// make of each line. Use it when a source produces fewer records than
// expected.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"query-watcher/pkg/source"
)

func main() {
	var (
		filePath = flag.String("file", "-", "log file to inspect, - for stdin")
		all      = flag.Bool("all", false, "show lines that produce no event too")
	)
	flag.Parse()

	in := os.Stdin
	if *filePath != "-" {
		file, err := os.Open(*filePath)
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()
		in = file
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	records := 0
	cacheEvents := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry := source.ParseLine(line)
		ev := source.Extract(entry, *filePath)
		if ev == nil && !*all {
			continue
		}

		fmt.Printf("\n--- Line %d ---\n", lineNum)
		if entry.Timestamp != "" {
			fmt.Printf("Timestamp: %s\n", entry.Timestamp)
		}
		if entry.Level != "" {
			fmt.Printf("Level: %s\n", entry.Level)
		}
		if entry.Message != "" {
			fmt.Printf("Message: %s\n", entry.Message)
		}
		if len(entry.Fields) > 0 {
			fmt.Printf("Fields (%d):\n", len(entry.Fields))
			for k, v := range entry.Fields {
				if len(v) > 200 {
					v = v[:200] + fmt.Sprintf("... (truncated, %d chars)", len(v))
				}
				fmt.Printf("  %s = %s\n", k, v)
			}
		}

		switch {
		case ev == nil:
			fmt.Println("No event extracted.")
		case ev.CacheHit != nil:
			cacheEvents++
			fmt.Printf("Cache event: hit=%v\n", *ev.CacheHit)
		case ev.Record != nil:
			records++
			fmt.Printf("Query record: %.2fms request=%q operation=%q\n",
				ev.Record.DurationMS, ev.Record.RequestID, ev.Record.OperationName)
			fmt.Printf("  %s\n", ev.Record.SQL)
		}
		fmt.Println(strings.Repeat("-", 40))
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nProcessed %d lines: %d query records, %d cache events.\n", lineNum, records, cacheEvents)
}
