package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/store"
)

// Dataset contains the profiles and their finalized transactions.
type Dataset struct {
	Profiles     []domain.Profile     `json:"profiles"`
	Transactions []domain.Transaction `json:"transactions"`
}

// WriteDataset serializes the dataset into profiles.json, transactions.json
// and transactions.csv under the provided directory.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, "profiles.json"), dataset.Profiles); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "transactions.json"), dataset.Transactions); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, "transactions.csv"), dataset.Transactions)
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func writeCSV(path string, txs []domain.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	sink := store.NewCSVSink(file)
	for _, tx := range txs {
		if err := sink.Write(tx); err != nil {
			return fmt.Errorf("write csv row for %s: %w", tx.ID, err)
		}
	}
	if err := sink.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
