package operations

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// EncodingZstd is stored in the content-encoding metadata of compressed
// objects.
const EncodingZstd = "zstd"

// CompressZstd writes a zstd-compressed copy of inputPath into dir (the
// system temp dir when empty) and returns its path. The input is left in
// place; the caller removes the copy.
func CompressZstd(inputPath, dir string) (string, error) {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.CreateTemp(dir, "b2backup-*.zst")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	outputPath := outFile.Name()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		outFile.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err := io.Copy(writer, inFile); err != nil {
		writer.Close()
		outFile.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to compress file: %w", err)
	}
	// Close flushes the final frame; the upload reads the file right after.
	if err := writer.Close(); err != nil {
		outFile.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to finish Zstandard stream: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to close output file: %w", err)
	}

	return outputPath, nil
}
