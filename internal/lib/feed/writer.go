package feed

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Format is a feed serialization
type Format string

const (
	FormatJSON   Format = "json"
	FormatBinary Format = "pbf"
	FormatText   Format = "text"
)

// FormatFromPath picks the serialization from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".pbf", ".pb", ".bin":
		return FormatBinary, nil
	case ".txt", ".textproto":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported feed file extension %q", filepath.Ext(path))
	}
}

// Marshal serializes msg in the given format
func Marshal(msg *gtfs.FeedMessage, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return protojson.MarshalOptions{UseProtoNames: true, Multiline: true, Indent: "  "}.Marshal(msg)
	case FormatBinary:
		return proto.Marshal(msg)
	case FormatText:
		return prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	default:
		return nil, fmt.Errorf("unknown feed format %q", format)
	}
}

// WriteFile replaces path with the serialized feed. The content is written to a
// temporary file next to path first, so readers never see a partial feed.
func WriteFile(path string, msg *gtfs.FeedMessage) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	data, err := Marshal(msg, format)
	if err != nil {
		return fmt.Errorf("failed to marshal feed: %w", err)
	}

	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file in the same directory and renames it onto path
func WriteFileAtomic(path string, data []byte) error {
	tempPath := getTempOutputPath(path)

	err := func() error {
		f, err := os.Create(tempPath)
		if err != nil {
			return err
		}
		defer f.Close()

		b := bufio.NewWriter(f)
		if _, err := b.Write(data); err != nil {
			return err
		}
		if err := b.Flush(); err != nil {
			return err
		}
		return f.Sync()
	}()
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write %s: %w", tempPath, err)
	}

	return os.Rename(tempPath, path)
}

func getTempOutputPath(path string) string {
	dir, name := filepath.Split(path)
	return fmt.Sprintf("%s.%s.tmp", dir, name)
}
