package core

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/parquet-go/parquet-go"
	"howett.net/ranger"
)

// OpenParquetFile opens a Parquet object for reading. Local paths are
// memory-mapped through the file; http(s) URLs are read with range
// requests so only the needed byte ranges travel over the network.
// The returned closer is nil for remote objects.
func OpenParquetFile(path string) (*parquet.File, io.Closer, error) {
	parsed, err := url.Parse(path)
	if err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return openRemoteParquetFile(parsed)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	return pf, file, nil
}

func openRemoteParquetFile(parsed *url.URL) (*parquet.File, io.Closer, error) {
	reader, err := ranger.NewReader(&ranger.HTTPRanger{URL: parsed})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create range reader for %s: %w", parsed, err)
	}
	length, err := reader.Length()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get content length of %s: %w", parsed, err)
	}
	pf, err := parquet.OpenFile(reader, length)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open remote parquet file %s: %w", parsed, err)
	}
	return pf, nil, nil
}
