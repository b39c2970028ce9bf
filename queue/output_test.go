package queue

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bowserlabs/bowsergen/client"
)

// minimalPNG builds a structurally valid PNG: signature, empty-ish IHDR,
// and IEND. Chunk CRCs are not validated by the writer.
func minimalPNG() []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature)

	writeChunk := func(chunkType string, payload []byte) {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
		buf.Write(length[:])
		buf.WriteString(chunkType)
		buf.Write(payload)
		buf.Write([]byte{0, 0, 0, 0})
	}
	writeChunk("IHDR", make([]byte, 13))
	writeChunk("IEND", nil)
	return buf.Bytes()
}

func TestInsertPNGTextChunks(t *testing.T) {
	original := minimalPNG()
	out, err := insertPNGTextChunks(original, map[string]string{
		"parameters": `{"workflow_name":"test"}`,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if !bytes.HasPrefix(out, pngSignature) {
		t.Fatal("Signature lost")
	}
	textPos := bytes.Index(out, []byte("tEXt"))
	idhrEnd := 8 + 12 + 13
	if textPos == -1 {
		t.Fatal("No tEXt chunk written")
	}
	if textPos != idhrEnd+4 {
		t.Errorf("tEXt chunk not directly after IHDR, at offset %d", textPos)
	}
	if !bytes.Contains(out, []byte("parameters\x00{\"workflow_name\":\"test\"}")) {
		t.Error("Keyword/text payload malformed")
	}
	if !bytes.HasSuffix(out, original[len(original)-12:]) {
		t.Error("Trailing chunks not preserved")
	}
}

func TestInsertPNGTextChunksRejectsNonPNG(t *testing.T) {
	if _, err := insertPNGTextChunks([]byte("not a png"), map[string]string{"k": "v"}); err == nil {
		t.Error("Expected error for non-PNG data")
	}
}

func TestSaveResultImageEmbedsMetadata(t *testing.T) {
	w := NewOutputWriter(t.TempDir())
	meta := &OutputMetadata{
		ImageParams: map[string]interface{}{"steps": 20},
		ExtraData:   map[string]interface{}{"generation_time": 1.5},
		Bowser:      BowserParams{WorkflowName: "test", GenerationTime: 1.5, Device: "3090"},
	}

	path, err := w.SaveResult(client.Result{
		Data: minimalPNG(), Filename: "out.png", Kind: client.ImageResult,
	}, meta, 0)
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Reading output: %v", err)
	}
	if !bytes.Contains(data, []byte("bowser_params")) {
		t.Error("Metadata chunk not embedded in PNG")
	}
	if !bytes.Contains(data, []byte("bowser_completion\x000")) {
		t.Error("Completion chunk not embedded in PNG")
	}

	// outputs land in a dated directory with a timestamped name
	dir := filepath.Base(filepath.Dir(path))
	if dir != time.Now().Format("2006-01-02") {
		t.Errorf("Output not in dated directory: %s", dir)
	}
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".png") || !strings.Contains(name, "-") {
		t.Errorf("Unexpected output name %s", name)
	}
}

func TestSaveResultRecordsIteration(t *testing.T) {
	w := NewOutputWriter(t.TempDir())
	meta := &OutputMetadata{
		ImageParams: map[string]interface{}{},
		ExtraData:   map[string]interface{}{},
		Bowser:      BowserParams{WorkflowName: "test"},
	}

	path, err := w.SaveResult(client.Result{
		Data: minimalPNG(), Filename: "out.png", Kind: client.ImageResult,
	}, meta, 7)
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Reading output: %v", err)
	}
	if !bytes.Contains(data, []byte("bowser_completion\x007")) {
		t.Error("Iteration index not recorded in completion chunk")
	}
}

func TestSaveResultVideoWritesSidecar(t *testing.T) {
	w := NewOutputWriter(t.TempDir())
	meta := &OutputMetadata{
		ImageParams: map[string]interface{}{},
		ExtraData:   map[string]interface{}{},
		Bowser:      BowserParams{WorkflowName: "video-test"},
	}

	path, err := w.SaveResult(client.Result{
		Data: []byte("video bytes"), Filename: "out.mp4", Kind: client.VideoResult,
	}, meta, 0)
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	sidecar, err := os.ReadFile(path + ".swarm.json")
	if err != nil {
		t.Fatalf("Sidecar not written: %v", err)
	}

	decoded := &OutputMetadata{}
	if err := json.Unmarshal(sidecar, decoded); err != nil {
		t.Fatalf("Sidecar not valid JSON: %v", err)
	}
	if decoded.Bowser.WorkflowName != "video-test" {
		t.Errorf("Sidecar metadata wrong: %+v", decoded.Bowser)
	}
}

func TestSequenceCounterRotation(t *testing.T) {
	w := NewOutputWriter(t.TempDir())
	now := time.Now()

	first, err := w.nextPath(now, ".png")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(filepath.Base(first), "-10.png") {
		t.Errorf("Counter should start at 10, got %s", first)
	}

	w.counter = 99
	if _, err := w.nextPath(now, ".png"); err != nil {
		t.Fatal(err)
	}
	if w.counter != 10 {
		t.Errorf("Counter should wrap 99 -> 10, got %d", w.counter)
	}
}
