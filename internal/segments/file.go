package segments

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// VetoFileName builds the conventional name for a round's veto segment file:
// <ifo>-HVETO_VETO_SEGS_ROUND_<n>-<start>-<duration>.txt
func VetoFileName(ifo string, round int, start, end float64) string {
	return fmt.Sprintf("%s-HVETO_VETO_SEGS_ROUND_%d-%d-%d.txt",
		ifo, round, int64(start), int64(end-start))
}

// WriteFile writes the list as a plain-text segment file, one "<start> <end>"
// pair per line.
func WriteFile(path string, l List) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, s := range l {
		fmt.Fprintf(w, "%f %f\n", s.Start, s.End)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close segment file: %w", err)
	}
	return nil
}

// ReadFile parses a plain-text segment file. Blank lines and lines starting
// with '#' are skipped. The result is coalesced so downstream callers can rely
// on the list invariant even for hand-edited files.
func ReadFile(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	var segs []Segment
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: expected \"<start> <end>\", got %q", path, lineno, line)
		}
		start, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad start time: %w", path, lineno, err)
		}
		end, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad end time: %w", path, lineno, err)
		}
		if end < start {
			return nil, fmt.Errorf("%s:%d: segment end %f before start %f", path, lineno, end, start)
		}
		segs = append(segs, Segment{Start: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segment file: %w", err)
	}
	return Coalesce(segs), nil
}
