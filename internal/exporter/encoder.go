package exporter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TransportError wraps a failure of the destination writer, as opposed to a
// failure to encode the item.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("write failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from the destination writer
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// transportWriter tags every write error as a TransportError
type transportWriter struct {
	w io.Writer
}

func (t transportWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		return n, &TransportError{Err: err}
	}
	return n, nil
}

// EncoderOptions configures an Encoder
type EncoderOptions struct {
	// BOMPrefix writes a UTF-8 BOM before the first CSV record (Excel compatibility)
	BOMPrefix bool
	// UseCRLF terminates CSV records with \r\n instead of \n
	UseCRLF bool
}

// DefaultEncoderOptions uses the platform line ending and no BOM
func DefaultEncoderOptions() EncoderOptions {
	return EncoderOptions{UseCRLF: runtime.GOOS == "windows"}
}

// Encoder writes export items one at a time. Nothing is held back between
// calls: once Encode returns, the item has been handed to the writer.
type Encoder interface {
	Encode(item Item) error
}

// NewEncoder returns the encoder for format
func NewEncoder(format Format, w io.Writer, opts EncoderOptions) (Encoder, error) {
	switch format {
	case FormatCSV:
		return NewCSVEncoder(w, opts), nil
	case FormatJSONL:
		return NewJSONLEncoder(w), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// CSVEncoder encodes items as comma separated records
type CSVEncoder struct {
	out        io.Writer
	writer     *csv.Writer
	bom        bool
	bomWritten bool
}

// NewCSVEncoder creates a CSV encoder writing to w
func NewCSVEncoder(w io.Writer, opts EncoderOptions) *CSVEncoder {
	out := transportWriter{w: w}
	writer := csv.NewWriter(out)
	writer.UseCRLF = opts.UseCRLF
	return &CSVEncoder{out: out, writer: writer, bom: opts.BOMPrefix}
}

// Encode implements Encoder
func (e *CSVEncoder) Encode(item Item) error {
	if e.bom && !e.bomWritten {
		e.bomWritten = true
		if _, err := e.out.Write(utf8BOM); err != nil {
			return err
		}
	}

	record := item.Labels
	if !item.IsHeader() {
		record = item.Row.Strings()
	}

	if err := e.writer.Write(record); err != nil {
		return err
	}
	e.writer.Flush()
	return e.writer.Error()
}

// JSONLEncoder encodes items as one JSON value per line
type JSONLEncoder struct {
	out io.Writer
}

// NewJSONLEncoder creates a JSON-Lines encoder writing to w
func NewJSONLEncoder(w io.Writer) *JSONLEncoder {
	return &JSONLEncoder{out: transportWriter{w: w}}
}

// Encode implements Encoder. Rows become objects; a header item, if one is
// ever passed in, becomes an array of labels.
func (e *JSONLEncoder) Encode(item Item) error {
	var (
		data []byte
		err  error
	)
	if item.IsHeader() {
		data, err = json.Marshal(item.Labels)
	} else {
		data, err = json.Marshal(item.Row)
	}
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	data = append(data, '\n')
	_, err = e.out.Write(data)
	return err
}
