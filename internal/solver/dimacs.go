package solver

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadDIMACS reads a DIMACS CNF file (the "p cnf <vars> <clauses>" header
// followed by zero-terminated clause lines) used by -mono mode and by the
// job-file adapter's File field. Comment lines starting with "c" are
// skipped. No ecosystem library in the pack parses DIMACS CNF (gini only
// ships a reader for its own solution-report format, dimacs.ReadSolve);
// this is a small, self-contained stdlib parser.
func LoadDIMACS(path string) ([][]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("solver: open %s: %w", path, err)
	}
	defer f.Close()

	var clauses [][]int32
	var cur []int32

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "c") || strings.HasPrefix(line, "p") {
			continue
		}
		for _, tok := range strings.Fields(line) {
			lit, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("solver: %s: invalid literal %q", path, tok)
			}
			if lit == 0 {
				clauses = append(clauses, cur)
				cur = nil
				continue
			}
			cur = append(cur, int32(lit))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("solver: reading %s: %w", path, err)
	}
	if len(cur) > 0 {
		clauses = append(clauses, cur)
	}
	return clauses, nil
}

// CountDIMACSLiterals reports the total number of literal occurrences
// across a CNF file's clauses (original_source/src/app/job.cpp's
// getNumFormulaLiterals()), used by the job-file adapter to populate
// jobdesc.Payload.LiteralCount so the sizeLimitPerProcess side effect can
// actually fire for jobs ingested off the filesystem API.
func CountDIMACSLiterals(path string) (int, error) {
	clauses, err := LoadDIMACS(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range clauses {
		n += len(c)
	}
	return n, nil
}
