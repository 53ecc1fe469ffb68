package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"invoicemap/pkg/models"
)

var mimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// loadImageChunks reads the image files into chunks in argument order. For a
// multi-part photograph, pass the parts top to bottom so reading order
// survives extraction.
func loadImageChunks(paths []string) ([]models.ImageChunk, error) {
	chunks := make([]models.ImageChunk, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("image %s is empty", path)
		}

		ext := strings.ToLower(filepath.Ext(path))
		mimeType, ok := mimeByExtension[ext]
		if !ok {
			mimeType = "image/jpeg"
		}
		chunks = append(chunks, models.ImageChunk{Data: data, MIMEType: mimeType})
	}
	return chunks, nil
}
