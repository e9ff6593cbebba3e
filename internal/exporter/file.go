package exporter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// ExportDirName is the directory, under the base directory, export files go to
const ExportDirName = "export"

// DescriptorTypeFilename marks a descriptor that points at a file on disk
const DescriptorTypeFilename = "filename"

// ErrInvalidFileName is returned for names that are not a plain export file name
var ErrInvalidFileName = errors.New("invalid export file name")

// FileDescriptor identifies a finished export file
type FileDescriptor struct {
	Type           string `json:"type"`
	Path           string `json:"path"`
	DeleteAfterUse bool   `json:"delete_after_use"`
}

// Name returns the file name part of the descriptor path
func (d FileDescriptor) Name() string {
	return filepath.Base(filepath.FromSlash(d.Path))
}

// FileExporter writes whole exports to files under <baseDir>/export
type FileExporter struct {
	baseDir string
	options EncoderOptions
	logger  *slog.Logger
}

// NewFileExporter creates a file exporter rooted at baseDir
func NewFileExporter(baseDir string, options EncoderOptions, logger *slog.Logger) *FileExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileExporter{
		baseDir: baseDir,
		options: options,
		logger:  logger.With(slog.String("component", "file_exporter")),
	}
}

// Dir returns the directory export files are written to
func (e *FileExporter) Dir() string {
	return filepath.Join(e.baseDir, ExportDirName)
}

// Export drains gen into a new file named <grid><hash>.<ext>. The file is held
// under an exclusive lock while it is written. A failed export leaves no file.
func (e *FileExporter) Export(ctx context.Context, gridName string, gen *Generator) (desc FileDescriptor, err error) {
	if err := os.MkdirAll(e.Dir(), 0755); err != nil {
		return FileDescriptor{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	format := gen.Format()
	name := gridName + randomHash() + "." + format.Extension()
	fullPath := filepath.Join(e.Dir(), name)

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("failed to create export file: %w", err)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		os.Remove(fullPath)
		return FileDescriptor{}, fmt.Errorf("failed to lock export file: %w", err)
	}

	defer func() {
		if uerr := unlockFile(file); uerr != nil && err == nil {
			err = fmt.Errorf("failed to unlock export file: %w", uerr)
		}
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
		if err != nil {
			os.Remove(fullPath)
			desc = FileDescriptor{}
		}
	}()

	buffered := bufio.NewWriter(file)
	encoder, err := NewEncoder(format, buffered, e.options)
	if err != nil {
		return FileDescriptor{}, err
	}

	for gen.Next(ctx) {
		if err := encoder.Encode(gen.Item()); err != nil {
			return FileDescriptor{}, fmt.Errorf("failed to write row %d: %w", gen.Rows(), err)
		}
	}
	if err := gen.Err(); err != nil {
		return FileDescriptor{}, err
	}
	if err := buffered.Flush(); err != nil {
		return FileDescriptor{}, fmt.Errorf("failed to flush export file: %w", err)
	}

	e.logger.InfoContext(ctx, "export file written",
		slog.String("grid", gridName),
		slog.String("file", name),
		slog.Int("rows", gen.Rows()))

	return FileDescriptor{
		Type:           DescriptorTypeFilename,
		Path:           ExportDirName + "/" + name,
		DeleteAfterUse: true,
	}, nil
}

// Resolve returns the full path of an export file. Only plain file names
// inside the export directory are accepted.
func (e *FileExporter) Resolve(name string) (string, error) {
	name = strings.TrimPrefix(name, ExportDirName+"/")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return filepath.Join(e.Dir(), name), nil
}

// randomHash returns a 16 hex digit hash of a random UUID
func randomHash() string {
	return fmt.Sprintf("%016x", xxh3.HashString(uuid.NewString()))
}
