package queue

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bowserlabs/bowsergen/client"
)

// OutputWriter persists fetched results under a dated directory tree:
// <root>/YYYY-MM-DD/YYYYMMDDhhmmss-NN.<ext>. The two-digit sequence
// counter disambiguates outputs that land within the same second and
// rotates through 10..99.
type OutputWriter struct {
	root    string
	counter int
}

func NewOutputWriter(root string) *OutputWriter {
	return &OutputWriter{root: root, counter: 10}
}

func (w *OutputWriter) SetRoot(root string) {
	w.root = root
}

func (w *OutputWriter) Root() string {
	return w.root
}

// nextPath reserves the next output filename for the given extension,
// creating the dated directory as needed.
func (w *OutputWriter) nextPath(now time.Time, ext string) (string, error) {
	dir := filepath.Join(w.root, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%d%s", now.Format("20060102150405"), w.counter, ext)
	w.counter = (w.counter-9)%90 + 10
	return filepath.Join(dir, name), nil
}

// SaveResult writes one fetched output to disk with its generation
// metadata and returns the path written. PNG images carry the metadata
// and the iteration index in text chunks; videos get a sibling
// ".swarm.json" sidecar.
func (w *OutputWriter) SaveResult(res client.Result, meta *OutputMetadata, iteration int) (string, error) {
	now := time.Now()

	ext := strings.ToLower(filepath.Ext(res.Filename))
	if ext == "" {
		if res.Kind == client.VideoResult {
			ext = ".mp4"
		} else {
			ext = ".png"
		}
	}

	path, err := w.nextPath(now, ext)
	if err != nil {
		return "", err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	data := res.Data
	if res.Kind == client.ImageResult && bytes.HasPrefix(data, pngSignature) {
		data, err = insertPNGTextChunks(data, map[string]string{
			"parameters":        string(metaJSON),
			"bowser_completion": strconv.Itoa(iteration),
		})
		if err != nil {
			return "", err
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	if res.Kind == client.VideoResult {
		sidecar, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(path+".swarm.json", sidecar, 0o644); err != nil {
			return "", err
		}
	}

	return path, nil
}

// SaveAnimatedPreview writes a multi-frame preview payload to a fixed
// temp file, overwritten on each arrival, and returns its path.
func (w *OutputWriter) SaveAnimatedPreview(data []byte) (string, error) {
	path := filepath.Join(os.TempDir(), "bowser-temp-preview.webp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// insertPNGTextChunks splices tEXt chunks into a PNG immediately after
// the IHDR chunk so downstream metadata readers find them before any
// image data.
func insertPNGTextChunks(data []byte, entries map[string]string) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("not a png")
	}

	// signature + IHDR length/type/data/crc
	if len(data) < 16 {
		return nil, fmt.Errorf("png truncated")
	}
	ihdrLen := binary.BigEndian.Uint32(data[8:12])
	insertAt := 8 + 12 + int(ihdrLen)
	if len(data) < insertAt {
		return nil, fmt.Errorf("png truncated")
	}

	var chunks bytes.Buffer
	for keyword, text := range entries {
		writeTextChunk(&chunks, keyword, text)
	}

	out := make([]byte, 0, len(data)+chunks.Len())
	out = append(out, data[:insertAt]...)
	out = append(out, chunks.Bytes()...)
	out = append(out, data[insertAt:]...)
	return out, nil
}

func writeTextChunk(buf *bytes.Buffer, keyword, text string) {
	payload := make([]byte, 0, len(keyword)+1+len(text))
	payload = append(payload, keyword...)
	payload = append(payload, 0)
	payload = append(payload, text...)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	buf.Write(length[:])

	chunkType := []byte("tEXt")
	buf.Write(chunkType)
	buf.Write(payload)

	crc := crc32.NewIEEE()
	crc.Write(chunkType)
	crc.Write(payload)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}
