package process

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// JavaInfo holds what `java -version` reported.
type JavaInfo struct {
	// Vendor is the first word of the version line ("openjdk", "java").
	Vendor string

	// Version is the quoted version string, e.g. "17.0.2" or "1.8.0_392".
	Version string

	// Major is the feature release number (8, 11, 17, 21...).
	Major int
}

// ProbeJava runs `<binary> -version` and parses its output.
// The JVM prints the version banner on stderr, so both streams are read.
func ProbeJava(ctx context.Context, binary string) (*JavaInfo, error) {
	if binary == "" {
		binary = "java"
	}
	cmd := exec.CommandContext(ctx, binary, "-version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s -version failed: %w", binary, err)
	}
	return ParseJavaVersion(string(output))
}

// ParseJavaVersion extracts version information from `java -version` output:
//
//	openjdk version "17.0.2" 2022-01-18
//	java version "1.8.0_392"
func ParseJavaVersion(output string) (*JavaInfo, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, " version \"")
		if idx < 0 {
			continue
		}
		rest := line[idx+len(" version \""):]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			continue
		}
		version := rest[:end]
		return &JavaInfo{
			Vendor:  line[:idx],
			Version: version,
			Major:   majorVersion(version),
		}, nil
	}
	return nil, fmt.Errorf("no version line in java output")
}

// majorVersion maps "1.8.0_392" to 8 and "17.0.2" to 17.
// Returns 0 if the version cannot be parsed.
func majorVersion(version string) int {
	parts := strings.FieldsFunc(version, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return 0
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if first == 1 && len(parts) > 1 {
		if second, err := strconv.Atoi(parts[1]); err == nil {
			return second
		}
	}
	return first
}

// JavaAvailable checks if the java binary can be found.
func JavaAvailable(binary string) bool {
	if binary == "" {
		binary = "java"
	}
	_, err := exec.LookPath(binary)
	return err == nil
}
