package build

import (
	"context"
	"io"
	"os"
	"time"

	"kit-adapter-aws/internal/adapters/storage"

	"github.com/klauspost/compress/zip"
)

// BootstrapName is the executable the provided.al2023 runtime starts
const BootstrapName = "bootstrap"

// WriteArchive zips every object in fs into w, marking the bootstrap
// executable. Entries are written in key order with a fixed timestamp so
// identical inputs produce identical archives.
func WriteArchive(ctx context.Context, fs storage.FileStorage, w io.Writer) (int, error) {
	files, err := storage.ListAll(ctx, fs, "")
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, file := range files {
		data, err := fs.Retrieve(ctx, file.Key)
		if err != nil {
			zw.Close()
			return 0, err
		}

		header := &zip.FileHeader{
			Name:     file.Key,
			Method:   zip.Deflate,
			Modified: epoch,
		}
		mode := os.FileMode(0644)
		if file.Key == BootstrapName {
			mode = 0755
		}
		header.SetMode(mode)

		entry, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			return 0, err
		}
		if _, err := entry.Write(data); err != nil {
			zw.Close()
			return 0, err
		}
	}

	return len(files), zw.Close()
}
