package signal

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// ChangedFile is one file touched by a unified diff, with the line numbers
// changed on the new side.
type ChangedFile struct {
	Path         string
	ChangedLines []int
}

// DiffStats aggregates churn over a whole diff.
type DiffStats struct {
	Files        int
	ChangedLines int
}

// Regex for chunk headers: @@ -oldStart,oldLen +newStart,newLen @@
// Only the new side matters for churn.
var chunkHeader = regexp.MustCompile(`^@@ \-\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// ParseUnifiedDiff extracts touched files and changed line numbers from a
// unified diff body carried inside a git payload.
func ParseUnifiedDiff(diff string) []ChangedFile {
	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var changes []ChangedFile
	var current *ChangedFile

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git") {
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				// "a/path b/path": the b/ side is the new version.
				path := strings.TrimPrefix(parts[3], "b/")
				if current != nil {
					changes = append(changes, *current)
				}
				current = &ChangedFile{Path: path, ChangedLines: []int{}}
			}
			continue
		}

		if current == nil {
			continue
		}

		if strings.HasPrefix(line, "@@") {
			matches := chunkHeader.FindStringSubmatch(line)
			if len(matches) > 1 {
				startLine, _ := strconv.Atoi(matches[1])
				count := 1 // length defaults to 1 when omitted
				if len(matches) > 2 && matches[2] != "" {
					count, _ = strconv.Atoi(matches[2])
				}
				for i := 0; i < count; i++ {
					current.ChangedLines = append(current.ChangedLines, startLine+i)
				}
			}
		}
	}

	if current != nil {
		changes = append(changes, *current)
	}
	return changes
}

// StatsFor folds changed files into aggregate churn numbers.
func StatsFor(changes []ChangedFile) DiffStats {
	stats := DiffStats{Files: len(changes)}
	for _, c := range changes {
		stats.ChangedLines += len(c.ChangedLines)
	}
	return stats
}
