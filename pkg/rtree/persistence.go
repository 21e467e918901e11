package rtree

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// IndexData represents the serializable form of the index
type IndexData struct {
	Records []models.Record
	Count   int64
}

// SaveToFile saves the index to a binary file
func (g *GeoIndex) SaveToFile(filename string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	data := IndexData{
		Records: g.records,
		Count:   g.itemCount.Load(),
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return nil
}

// LoadFromFile replaces the index contents with a file written by SaveToFile
func (g *GeoIndex) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var data IndexData
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	if int64(len(data.Records)) != data.Count {
		return fmt.Errorf("corrupt index file: header says %d records, found %d", data.Count, len(data.Records))
	}

	g.Clear()
	if err := g.IndexRecords(data.Records); err != nil {
		return fmt.Errorf("failed to index records: %w", err)
	}

	return nil
}
