package app

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	payloadschema "horse.fit/narrative/schema"
)

type validateResult struct {
	Scanned  int
	Valid    int
	Invalid  int
	Articles int
}

func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	dir := flags.String("dir", "testdata/candidates", "Directory containing candidate batch .json files")
	recursive := flags.Bool("recursive", true, "Recursively scan subdirectories")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateFiles(files)
	fmt.Printf(
		"validate scanned=%d valid=%d invalid=%d articles=%d dir=%s recursive=%t\n",
		result.Scanned,
		result.Valid,
		result.Invalid,
		result.Articles,
		strings.TrimSpace(*dir),
		*recursive,
	)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

func validateFiles(files []string) validateResult {
	result := validateResult{}
	for _, path := range files {
		result.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}
		_, candidates, err := payloadschema.ValidateCandidateBatch(raw, "")
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}
		result.Valid++
		result.Articles += len(candidates)
	}
	return result
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if path != cleanRoot && (hidden || !recursive) {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden && strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
