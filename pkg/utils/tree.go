package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// SaveTreeStructure writes a text listing of the mirrored directory rooted at
// targetDir to outputFilePath. The listing file should live outside targetDir
// so it does not appear in the mirror itself.
func SaveTreeStructure(targetDir, outputFilePath string, log *logrus.Entry) error {
	info, err := os.Stat(targetDir)
	if err != nil {
		return fmt.Errorf("%w: checking tree root '%s': %w", ErrFilesystem, targetDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: tree root '%s' is not a directory", ErrFilesystem, targetDir)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: creating tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "Mirror layout for: %s\n", targetDir)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 20+len(targetDir)))
	fmt.Fprintf(w, "%s/\n", filepath.Base(targetDir))

	fileCount, err := WriteTree(w, targetDir)
	if err != nil {
		return fmt.Errorf("writing tree for '%s': %w", targetDir, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	log.WithFields(logrus.Fields{"root": targetDir, "files": fileCount}).Debug("Wrote mirror tree listing")
	return nil
}

// WriteTree writes the entries below dir (directories first, then files, each
// group case-insensitively sorted) and returns the number of files listed.
func WriteTree(w io.Writer, dir string) (int, error) {
	return writeTreeLevel(w, dir, "")
}

func writeTreeLevel(w io.Writer, dir, indent string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: reading directory '%s': %w", ErrFilesystem, dir, err)
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	files := 0
	for i, entry := range entries {
		last := i == len(entries)-1
		connector, childIndent := entryPrefix, indent+verticalLine
		if last {
			connector, childIndent = lastEntryPrefix, indent+indentPrefix
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, entry.Name()); err != nil {
			return files, err
		}
		if !entry.IsDir() {
			files++
			continue
		}
		n, err := writeTreeLevel(w, filepath.Join(dir, entry.Name()), childIndent)
		files += n
		if err != nil {
			return files, err
		}
	}
	return files, nil
}
