package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"challenge-runner/internal/model"
)

// The dataset checkout is the job catalog: <root>/<split>_dataset.json maps
// canonical challenge ids to challenge directories, and every directory
// carries a challenge.json with the metadata the classifier needs. Dataset
// file order is catalog order; jobs are admitted in exactly this order.

type datasetEntry struct {
	Path string `json:"path"`
}

type challengeMeta struct {
	Name  string `json:"name"`
	Ports []int  `json:"ports"`
	// Some challenge manifests declare a single server port instead of a
	// ports list. Either form marks the job exclusive.
	Server struct {
		Port int `json:"port"`
	} `json:"server"`
}

func DatasetPath(root, split string) string {
	return filepath.Join(root, split+"_dataset.json")
}

// List enumerates every job of a split in dataset order, classified
// parallel or exclusive. Any defect (unreadable index, malformed JSON,
// duplicate or unusable ids, missing challenge metadata, an empty result)
// is an error: a run must never start from a partial or empty catalog.
func List(root, split string) ([]model.Job, error) {
	indexPath := DatasetPath(root, split)
	file, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: open dataset index %s: %w", indexPath, err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", indexPath, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("catalog: %s: expected a JSON object of challenges", indexPath)
	}

	var jobs []model.Job
	seen := map[string]bool{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", indexPath, err)
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("catalog: %s: non-string challenge id", indexPath)
		}
		if err := validateID(id); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", indexPath, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog: %s: duplicate challenge id %q", indexPath, id)
		}
		seen[id] = true

		var entry datasetEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("catalog: parse entry %q in %s: %w", id, indexPath, err)
		}
		if strings.TrimSpace(entry.Path) == "" {
			return nil, fmt.Errorf("catalog: %s: challenge %q has no path", indexPath, id)
		}

		dir := filepath.Join(root, filepath.FromSlash(entry.Path))
		kind, err := classify(dir)
		if err != nil {
			return nil, fmt.Errorf("catalog: challenge %q: %w", id, err)
		}

		jobs = append(jobs, model.Job{ID: id, Kind: kind, Dir: dir, Status: model.StatusPending})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", indexPath, err)
	}

	if len(jobs) == 0 {
		return nil, fmt.Errorf("catalog: %s: dataset lists no challenges", indexPath)
	}
	return jobs, nil
}

// Partition splits jobs into the two scheduling lists, both in catalog
// order.
func Partition(jobs []model.Job) (parallel, exclusive []model.Job) {
	for _, job := range jobs {
		if job.Kind == model.KindExclusive {
			exclusive = append(exclusive, job)
		} else {
			parallel = append(parallel, job)
		}
	}
	return parallel, exclusive
}

func classify(dir string) (string, error) {
	metaPath := filepath.Join(dir, "challenge.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return "", fmt.Errorf("read metadata %s: %w", metaPath, err)
	}
	var meta challengeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("parse metadata %s: %w", metaPath, err)
	}
	if len(meta.Ports) > 0 || meta.Server.Port > 0 {
		return model.KindExclusive, nil
	}
	return model.KindParallel, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty challenge id")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("challenge id %q is not a usable file name", id)
	}
	return nil
}
